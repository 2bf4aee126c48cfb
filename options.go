package chatloop

import (
	"errors"
	"fmt"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-chatloop/pbx"
	"github.com/joeycumines/logiface"
)

// Defaults sent in the handshake.
const (
	DefaultUserAgent       = "golang"
	DefaultProtocolVersion = "0.16"
	DefaultDeviceID        = "1"
	DefaultLanguage        = "en-US"
	DefaultPlatform        = "web"
)

// DefaultKeyPressInterval is the minimum interval between key press notes
// sent to the same topic.
const DefaultKeyPressInterval = 3 * time.Second

// sessionOptions holds configuration for a [Session].
type sessionOptions struct {
	logger           *logiface.Logger[logiface.Event]
	transport        pbx.Transport
	keyPressRates    map[time.Duration]int
	receipts         *ReceiptConfig
	userAgent        string
	protocolVersion  string
	deviceID         string
	language         string
	platform         string
	handshakeTimeout time.Duration
}

// Option configures a [Manager] or a [Session]. Options given to a Manager
// apply to every session it creates, and are applied before the options
// given to NewSession.
type Option interface {
	applyOption(*sessionOptions) error
}

// optionImpl implements [Option] via a closure.
type optionImpl struct {
	fn func(*sessionOptions) error
}

func (o *optionImpl) applyOption(opts *sessionOptions) error {
	return o.fn(opts)
}

// WithLogger configures structured logging. A nil logger disables logging,
// which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithTransport configures how streams to the server are opened. Defaults to
// gRPC, see package grpctransport.
func WithTransport(transport pbx.Transport) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		if transport == nil {
			return errors.New("nil transport")
		}
		opts.transport = transport
		return nil
	}}
}

// WithUserAgent sets the user agent sent in the handshake.
func WithUserAgent(userAgent string) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		opts.userAgent = userAgent
		return nil
	}}
}

// WithProtocolVersion sets the protocol version sent in the handshake.
func WithProtocolVersion(version string) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		opts.protocolVersion = version
		return nil
	}}
}

// WithDeviceID sets the device id sent in the handshake.
func WithDeviceID(deviceID string) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		opts.deviceID = deviceID
		return nil
	}}
}

// WithLanguage sets the language sent in the handshake.
func WithLanguage(language string) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		opts.language = language
		return nil
	}}
}

// WithPlatform sets the platform sent in the handshake.
func WithPlatform(platform string) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		opts.platform = platform
		return nil
	}}
}

// WithHandshakeTimeout bounds the time allowed to open the stream and receive
// the handshake reply. Zero, the default, means no limit.
func WithHandshakeTimeout(d time.Duration) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		if d < 0 {
			return errors.New("negative handshake timeout")
		}
		opts.handshakeTimeout = d
		return nil
	}}
}

// WithKeyPressRates configures the rate limits applied to NotifyKeyPress,
// per topic, as a map of window to maximum count. Notes exceeding the limit
// are dropped. A nil or empty map disables limiting. See
// [DefaultKeyPressInterval] for the default.
func WithKeyPressRates(rates map[time.Duration]int) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		if len(rates) != 0 {
			if err := validateRates(rates); err != nil {
				return err
			}
		}
		opts.keyPressRates = rates
		return nil
	}}
}

// WithReceiptBatching enables coalescing of NotifyReceived and NotifyRead
// notes, see [ReceiptConfig]. A nil config disables it, which is the default.
func WithReceiptBatching(cfg *ReceiptConfig) Option {
	return &optionImpl{fn: func(opts *sessionOptions) error {
		opts.receipts = cfg
		return nil
	}}
}

func resolveOptions(options ...[]Option) (*sessionOptions, error) {
	opts := sessionOptions{
		userAgent:       DefaultUserAgent,
		protocolVersion: DefaultProtocolVersion,
		deviceID:        DefaultDeviceID,
		language:        DefaultLanguage,
		platform:        DefaultPlatform,
		keyPressRates:   map[time.Duration]int{DefaultKeyPressInterval: 1},
	}
	for _, list := range options {
		for _, o := range list {
			if o == nil {
				continue
			}
			if err := o.applyOption(&opts); err != nil {
				return nil, err
			}
		}
	}
	return &opts, nil
}

func resolveLogger(opts []Option) *logiface.Logger[logiface.Event] {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil
	}
	return cfg.logger
}

// validateRates reports the panic catrate.NewLimiter raises for invalid rates.
func validateRates(rates map[time.Duration]int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid key press rates: %v", r)
		}
	}()
	catrate.NewLimiter(rates)
	return nil
}
