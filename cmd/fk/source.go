package main

import (
	"fmt"
	"log/slog"

	"github.com/flowkeeper-org/fk-engine/internal/cache"
	"github.com/flowkeeper-org/fk-engine/internal/codec"
	"github.com/flowkeeper-org/fk-engine/internal/events"
	"github.com/flowkeeper-org/fk-engine/internal/filelog"
	"github.com/flowkeeper-org/fk-engine/internal/remote"
	"github.com/flowkeeper-org/fk-engine/internal/source"
	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

func buildCodec() (codec.Codec, error) {
	if settings.Passphrase == "" {
		return codec.Plain{}, nil
	}
	return codec.NewAES(settings.Passphrase)
}

func buildEngine() *source.Engine {
	return source.NewEngine(source.Config{
		Identity: settings.Username,
		Lenient:  settings.IgnoreInvalidSequence,
		Logger:   slog.Default(),
	}, events.NewEmitter(), strategy.NewRegistry())
}

// newFileSource builds the file-backed stack most commands run on.
func newFileSource(watch bool) (*filelog.FileSource, error) {
	cdc, err := buildCodec()
	if err != nil {
		return nil, err
	}
	if settings.DataFile == "" {
		return nil, fmt.Errorf("no data file configured")
	}
	return filelog.New(buildEngine(), filelog.Options{
		Path:         settings.DataFile,
		FullName:     settings.FullName,
		Watch:        watch,
		IgnoreErrors: settings.IgnoreErrors,
		Codec:        cdc,
		Logger:       slog.Default(),
	}), nil
}

// newSyncedSource builds the remote stack: a websocket source wrapped
// in the caching decorator when a cache directory is configured.
func newSyncedSource() (cache.Source, error) {
	ws := remote.New(buildEngine(), remote.Options{
		URL:               settings.RemoteURL,
		Token:             settings.RemoteToken,
		HeartbeatInterval: settings.HeartbeatInterval,
		HeartbeatTimeout:  settings.HeartbeatTimeout,
		Logger:            slog.Default(),
	})
	if settings.CacheDir == "" {
		return ws, nil
	}
	cdc, err := buildCodec()
	if err != nil {
		return nil, err
	}
	return cache.New(ws, cache.Options{
		Dir:    settings.CacheDir,
		Codec:  cdc,
		Logger: slog.Default(),
	}), nil
}
