package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graphql-go/graphql"
	gqlhandler "github.com/graphql-go/handler"

	"github.com/apimgr/devrestore/src/server/middleware"
	models "github.com/apimgr/devrestore/src/server/model"
)

type sessionKey struct{}

// NewGraphQL builds the read-only operator API
func (h *Handler) NewGraphQL() (*gqlhandler.Handler, error) {
	operationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Operation",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"username":     &graphql.Field{Type: graphql.String},
			"action":       &graphql.Field{Type: graphql.String},
			"startedAt":    &graphql.Field{Type: graphql.DateTime},
			"finishedAt":   &graphql.Field{Type: graphql.DateTime},
			"durationMs":   &graphql.Field{Type: graphql.Int},
			"exitCode":     &graphql.Field{Type: graphql.Int},
			"success":      &graphql.Field{Type: graphql.Boolean},
			"errorMessage": &graphql.Field{Type: graphql.String},
		},
	})

	pendingType := graphql.NewObject(graphql.ObjectConfig{
		Name: "PendingOperation",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.String},
			"kind":      &graphql.Field{Type: graphql.String},
			"createdAt": &graphql.Field{Type: graphql.DateTime},
		},
	})

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"operations": &graphql.Field{
				Type:        graphql.NewList(operationType),
				Description: "Recent restore operations, newest first",
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					limit, _ := p.Args["limit"].(int)
					recs, err := h.History.Recent(p.Context, limit)
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(recs))
					for _, r := range recs {
						out = append(out, operationMap(r))
					}
					return out, nil
				},
			},
			"pendingOperation": &graphql.Field{
				Type:        pendingType,
				Description: "Restore awaiting reboot confirmation in this session",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess := sessionFrom(p.Context)
					if !sess.RebootPending() {
						return nil, nil
					}
					return map[string]interface{}{
						"id":        sess.Pending.ID,
						"kind":      sess.Pending.Kind,
						"createdAt": sess.Pending.CreatedAt,
					}, nil
				},
			},
			"deviceMode": &graphql.Field{
				Type:        graphql.String,
				Description: "Current device operating mode",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return h.Device.Mode(p.Context), nil
				},
			},
			"restoreInProgress": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return h.Restore.Guard.Busy(), nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: rootQuery})
	if err != nil {
		return nil, err
	}

	return gqlhandler.New(&gqlhandler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: false,
	}), nil
}

// GraphQLHandler serves the API with the caller's session in the resolver context
func GraphQLHandler(gh *gqlhandler.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := middleware.CurrentSession(c)
		if sess == nil {
			c.AbortWithError(http.StatusInternalServerError, errors.New("graphql requires a session"))
			return
		}
		ctx := context.WithValue(c.Request.Context(), sessionKey{}, sess)
		gh.ContextHandler(ctx, c.Writer, c.Request)
	}
}

func sessionFrom(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(sessionKey{}).(*models.Session)
	return sess
}

func operationMap(r *models.OperationRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":           r.ID,
		"username":     r.Username,
		"action":       r.Action,
		"startedAt":    r.StartedAt,
		"finishedAt":   r.FinishedAt,
		"durationMs":   int(r.Duration() / time.Millisecond),
		"exitCode":     r.ExitCode,
		"success":      r.Success,
		"errorMessage": r.ErrorMessage,
	}
}
