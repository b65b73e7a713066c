package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
	"go.uber.org/zap"
)

// ActorHeader names the acting employee. Authentication itself happens
// upstream (gateway or proxy); this service trusts the header.
const ActorHeader = "X-Employee-ID"

type actorKey struct{}

// withActor resolves ActorHeader through the directory and stores the
// actor in the request context.
func (h *Handler) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(ActorHeader)
		if id == "" {
			writeFailure(w, http.StatusUnauthorized, codeUnauthenticated, "missing "+ActorHeader+" header")
			return
		}
		emp, err := h.Store.GetEmployee(r.Context(), id)
		if errors.Is(err, generic.ErrNotFound) {
			writeFailure(w, http.StatusUnauthorized, codeUnauthenticated, "unknown employee "+id)
			return
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, emp.Actor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom returns the actor stored by withActor.
func actorFrom(ctx context.Context) authz.Actor {
	a, _ := ctx.Value(actorKey{}).(authz.Actor)
	return a
}

// requestLogger logs one line per request with zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("actor", r.Header.Get(ActorHeader)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
