// Package config defines the format-agnostic session layout and the
// application settings.
//
// A `config.Layout` describes which instruments exist, how they are grouped
// for triggering and which filters are derived from their channels. It is
// the single source of truth the app uses to build a session. Concrete
// loaders, such as the HCL one, live in separate packages and implement the
// Loader interface.
package config
