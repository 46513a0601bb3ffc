package controllers

import (
	"context"
	"net/http"

	"github.com/pro-cess/subscriptions-backend/api/responses"
	"github.com/pro-cess/subscriptions-backend/pkg/config"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "live", "env": cfg.App.Env})
	}
}

// HealthReady reports readiness only when every backing store answers.
func HealthReady(cfg *config.Config, logg *logger.Logger, db, cache pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
				return
			}
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready", "env": cfg.App.Env})
	}
}
