package rtscene

import "github.com/gekko3d/rtscene/rt/core"

type options struct {
	logger      Logger
	scene       core.Index
	labelPrefix string
}

// Option configures Load and New.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		logger:      NewNopLogger(),
		labelPrefix: "rtscene",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithScene instances document scene i instead of the default scene.
func WithScene(i int) Option {
	return func(o *options) { o.scene = core.Some(i) }
}

// WithLabelPrefix sets the prefix of every GPU resource label.
func WithLabelPrefix(prefix string) Option {
	return func(o *options) { o.labelPrefix = prefix }
}

// WithConfig applies the loader section of cfg.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		if cfg.Loader.Scene != nil {
			o.scene = core.Some(*cfg.Loader.Scene)
		}
		if cfg.Loader.LabelPrefix != "" {
			o.labelPrefix = cfg.Loader.LabelPrefix
		}
	}
}
