package pionrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type publication struct {
	track  *LocalTrack
	sender *webrtc.RTPSender
}

// Publisher is a LocalParticipant that publishes onto a peer connection.
// Negotiation is left to the signaling layer.
type Publisher struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger

	mu           sync.Mutex
	publications map[string]*publication
	order        []string
}

func NewPublisher(pc *webrtc.PeerConnection, logger *zap.Logger) *Publisher {
	return &Publisher{
		pc:           pc,
		logger:       logger,
		publications: make(map[string]*publication),
	}
}

func (p *Publisher) PublishTrack(ctx context.Context, track transport.LocalTrack) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lt, ok := track.(*LocalTrack)
	if !ok {
		return ErrUnsupportedTrack
	}

	p.mu.Lock()
	if _, exists := p.publications[lt.ID()]; exists {
		p.mu.Unlock()
		return fmt.Errorf("track %s already published", lt.ID())
	}
	p.mu.Unlock()

	// Call pion without holding the lock; AddTrack may fire negotiation callbacks.
	sender, err := p.pc.AddTrack(lt.Sample())
	if err != nil {
		return err
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	p.mu.Lock()
	p.publications[lt.ID()] = &publication{track: lt, sender: sender}
	p.order = append(p.order, lt.ID())
	p.mu.Unlock()

	p.logger.Debug("Track published",
		zap.String("trackID", lt.ID()),
		zap.String("kind", string(lt.Kind())),
		zap.String("mimeType", lt.MimeType()),
	)
	return nil
}

func (p *Publisher) UnpublishTrack(ctx context.Context, track transport.LocalTrack) error {
	p.mu.Lock()
	pub, ok := p.publications[track.ID()]
	if ok {
		delete(p.publications, track.ID())
		for i, id := range p.order {
			if id == track.ID() {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()

	if !ok {
		return transport.ErrNotPublished
	}
	if err := p.pc.RemoveTrack(pub.sender); err != nil {
		return err
	}

	p.logger.Debug("Track unpublished", zap.String("trackID", track.ID()))
	return nil
}

func (p *Publisher) PublishedTracks() []transport.LocalTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]transport.LocalTrack, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.publications[id].track)
	}
	return out
}

// Close closes the peer connection, stopping every sender.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.publications = make(map[string]*publication)
	p.order = nil
	p.mu.Unlock()
	return p.pc.Close()
}
