package nativemsg

import (
	"errors"
	"io"
	"sync"

	"github.com/goodtune/shortmeter/internal/engine"
	"github.com/goodtune/shortmeter/internal/host"
	"github.com/goodtune/shortmeter/internal/site"
	"github.com/rs/zerolog"
)

// Bridge connects the engine to a browser extension. Incoming messages
// update the host state; engine output is written back as messages.
type Bridge struct {
	r     io.Reader
	w     io.Writer
	wmu   sync.Mutex
	host  *host.State
	onSet func(minutes string)

	logger zerolog.Logger
}

// NewBridge creates a bridge reading from r and writing to w
func NewBridge(r io.Reader, w io.Writer, state *host.State, logger zerolog.Logger) *Bridge {
	return &Bridge{
		r:      r,
		w:      w,
		host:   state,
		logger: logger.With().Str("component", "nativemsg").Logger(),
	}
}

// OnSetLimit registers the handler for set_limit requests. It must be
// called before Serve.
func (b *Bridge) OnSetLimit(fn func(minutes string)) {
	b.onSet = fn
}

// Serve reads messages until the browser closes the pipe. A clean close
// returns nil.
func (b *Bridge) Serve() error {
	for {
		var msg Incoming
		if err := ReadMessage(b.r, &msg); err != nil {
			if errors.Is(err, ErrMalformed) {
				b.logger.Warn().Err(err).Msg("Ignoring malformed message")
				continue
			}
			if errors.Is(err, io.EOF) {
				b.logger.Info().Msg("Browser closed the connection")
				return nil
			}
			return err
		}

		b.handle(msg)
	}
}

func (b *Bridge) handle(msg Incoming) {
	switch msg.Type {
	case TypeLocation:
		b.host.SetLocation(site.Location{
			Hostname: msg.Hostname,
			Pathname: msg.Pathname,
			Href:     msg.Href,
		})

	case TypeVisibility:
		if msg.Visible == nil {
			b.logger.Warn().Msg("Visibility message without visible field")
			return
		}
		b.host.SetForeground(*msg.Visible)

	case TypeSetLimit:
		if b.onSet == nil {
			b.LimitResult(false, 0)
			return
		}
		b.onSet(msg.MinutesText())

	default:
		b.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message type")
	}
}

// SessionStarted implements engine.Presenter
func (b *Bridge) SessionStarted(kind site.Kind) {
	b.send(SessionMessage{Type: TypeSession, Active: true, TikTokLike: kind == site.TikTokLike})
}

// SessionEnded implements engine.Presenter
func (b *Bridge) SessionEnded() {
	b.send(SessionMessage{Type: TypeSession, Active: false})
}

// StateChanged implements engine.Presenter
func (b *Bridge) StateChanged(state engine.State) {
	b.send(StateMessage{
		Type:               TypeState,
		AccumulatedSeconds: state.AccumulatedSeconds,
		LimitSeconds:       state.LimitSeconds,
		EngagementCount:    state.EngagementCount,
		TikTokLike:         state.TikTokLike,
		Exceeded:           state.Exceeded,
		Ratio:              state.Ratio,
	})
}

// PopupShown implements engine.Presenter
func (b *Bridge) PopupShown(message string) {
	b.send(PopupMessage{Type: TypePopup, Message: message})
}

// PopupExpired implements engine.Presenter
func (b *Bridge) PopupExpired() {
	b.send(PopupExpireMessage{Type: TypePopupExpire})
}

// LimitResult answers a set_limit request with the limit now in force
func (b *Bridge) LimitResult(accepted bool, limitSeconds int64) {
	b.send(LimitResultMessage{Type: TypeLimitResult, Accepted: accepted, LimitMinutes: limitSeconds / 60})
}

func (b *Bridge) send(v interface{}) {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	if err := WriteMessage(b.w, v); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to send message")
	}
}
