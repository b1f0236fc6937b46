package controllers

import (
	"net/http"

	"github.com/evwarranty/warranty-backend/api/middleware"
	"github.com/evwarranty/warranty-backend/pkg/auth"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

func actorFrom(r *http.Request) (auth.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return auth.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return actor, nil
}
