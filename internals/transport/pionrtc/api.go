// Package pionrtc adapts pion/webrtc v3 to the transport and render
// interfaces. The roomlink harness uses the API builder and the track
// factory. Publisher, RemoteTrack and PacketTarget are exported for callers
// that run their own signaling against a PeerConnection.
package pionrtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

type APIOptions struct {
	ICEServers []ICEServer
	UDPPortMin uint16
	UDPPortMax uint16
	PublicIP   string
}

// NewAPI builds a webrtc API with the default codecs and interceptors
// (NACK, RTCP reports, TWCC) plus the configured network settings.
func NewAPI(opts APIOptions, logger *zap.Logger) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, i); err != nil {
		return nil, err
	}

	settingEngine := webrtc.SettingEngine{}
	if opts.UDPPortMin > 0 && opts.UDPPortMax > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			logger.Error("Failed to set UDP port range",
				zap.Uint16("min", opts.UDPPortMin),
				zap.Uint16("max", opts.UDPPortMax),
				zap.Error(err),
			)
		}
	}
	if opts.PublicIP != "" {
		settingEngine.SetNAT1To1IPs([]string{opts.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

// Configuration returns the peer connection configuration for opts.
func Configuration(opts APIOptions) webrtc.Configuration {
	cfg := webrtc.Configuration{
		ICEServers: make([]webrtc.ICEServer, len(opts.ICEServers)),
	}
	for idx, s := range opts.ICEServers {
		cfg.ICEServers[idx] = webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		}
	}
	return cfg
}
