package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/adityaadpandey/roomlink/internals/device"
	"github.com/adityaadpandey/roomlink/internals/reconnect"
	"github.com/adityaadpandey/roomlink/internals/render"
	"github.com/adityaadpandey/roomlink/internals/session"
	"github.com/adityaadpandey/roomlink/internals/store"
	"go.uber.org/zap"
)

type connectRequest struct {
	Room string `json:"room"`
}

type devicesRequest struct {
	CameraID  string `json:"cameraId,omitempty"`
	MicID     string `json:"micId,omitempty"`
	SpeakerID string `json:"speakerId,omitempty"`
	Quality   string `json:"quality,omitempty"`
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

type deviceTestRequest struct {
	Source string `json:"source"`
}

type stateResponse struct {
	State    string                `json:"state"`
	Session  *session.Session      `json:"session,omitempty"`
	Retry    retryResponse         `json:"retry"`
	Bindings []render.Binding      `json:"bindings"`
	Devices  store.DeviceSelection `json:"devices"`
	Quality  string                `json:"quality"`
	Meter    bool                  `json:"meterActive"`
}

type retryResponse struct {
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"maxAttempts"`
	BaseDelay   string `json:"baseDelay"`
	Running     bool   `json:"running"`
}

func newRetryResponse(r reconnect.RetryState) retryResponse {
	return retryResponse{
		Attempt:     r.Attempt,
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay.String(),
		Running:     r.Running,
	}
}

func (a *App) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (a *App) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := a.connect(r.Context(), req.Room)
	if err != nil {
		a.logger.Warn("Connect request failed", zap.String("room", req.Room), zap.Error(err))
		http.Error(w, err.Error(), connectStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func connectStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidRoomName):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrCredentialUnavailable), errors.Is(err, session.ErrTransportRejected):
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

func (a *App) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.controller.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bindings := a.controller.Bindings()
	if bindings == nil {
		bindings = []render.Binding{}
	}
	writeJSON(w, http.StatusOK, stateResponse{
		State:    a.controller.CurrentState().String(),
		Session:  a.controller.Session(),
		Retry:    newRetryResponse(a.controller.RetryState()),
		Bindings: bindings,
		Devices:  a.switcher.Selection(),
		Quality:  a.switcher.Quality().String(),
		Meter:    a.meter.Active(),
	})
}

// handleDevices applies the requested quality, camera, microphone and speaker
// in that order and stops at the first failure.
func (a *App) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req devicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.Quality != "" {
		q, err := device.ParseQuality(req.Quality)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := a.switcher.SwitchVideoQuality(ctx, q); err != nil {
			a.switchFailed(w, err)
			return
		}
	}
	if req.CameraID != "" {
		if _, err := a.switcher.SwitchCamera(ctx, req.CameraID); err != nil {
			a.switchFailed(w, err)
			return
		}
	}
	if req.MicID != "" {
		if _, err := a.switcher.SwitchMicrophone(ctx, req.MicID); err != nil {
			a.switchFailed(w, err)
			return
		}
	}
	if req.SpeakerID != "" {
		a.switcher.SelectSpeaker(req.SpeakerID)
	}

	writeJSON(w, http.StatusOK, a.switcher.Selection())
}

func (a *App) switchFailed(w http.ResponseWriter, err error) {
	a.logger.Warn("Device switch failed", zap.Error(err))
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, device.ErrInvalidQuality):
		status = http.StatusBadRequest
	case errors.Is(err, device.ErrDeviceUnavailable):
		status = http.StatusNotFound
	case errors.Is(err, device.ErrPublishRejected):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}

func (a *App) handleMute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	a.controller.SetMuted(req.Muted)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceTest starts (POST) or ends (DELETE) a level meter session. Only
// the synthetic tone is available without a capture backend.
func (a *App) handleDeviceTest(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req deviceTestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Source != "tone" {
			http.Error(w, "Unsupported source", http.StatusBadRequest)
			return
		}
		a.startTone()
		w.WriteHeader(http.StatusAccepted)

	case http.MethodDelete:
		a.stopTone()
		a.meter.Stop()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "connected"
	if a.redis == nil {
		redisStatus = "disabled"
	} else if err := a.redis.Ping(r.Context()); err != nil {
		redisStatus = "error: " + err.Error()
	}

	status := "healthy"
	if redisStatus != "connected" && redisStatus != "disabled" {
		status = "degraded"
	}

	webrtcStatus := "disabled"
	if a.webrtcAPI != nil {
		webrtcStatus = "ready"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"redis":     redisStatus,
		"webrtc":    webrtcStatus,
		"state":     a.controller.CurrentState().String(),
		"clients":   a.hub.Clients(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
