package jsonjob

import (
	"context"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// wailsEmitter forwards events to the webview through the Wails runtime
type wailsEmitter struct {
	ctx context.Context
}

// NewWailsEmitter returns an Emitter bound to the Wails startup context
func NewWailsEmitter(ctx context.Context) Emitter {
	return wailsEmitter{ctx: ctx}
}

func (w wailsEmitter) Emit(topic string, payload any) {
	runtime.EventsEmit(w.ctx, topic, payload)
}
