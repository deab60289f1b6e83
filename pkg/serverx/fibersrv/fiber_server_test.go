package fibersrv_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/marcodd23/go-micro-dao/pkg/configx"
	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/serverx/fibersrv"
	"github.com/marcodd23/go-micro-dao/pkg/validator"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *fiber.App {
	t.Helper()

	srv := fibersrv.NewFiberServer(&configx.BaseConfig{
		Name:   "notes-test",
		Server: &configx.ServerConfig{Port: "0", DisableStartupMessage: true},
	})

	srv.Setup(context.Background(), func(app *fiber.App) {
		app.Get("/missing", func(*fiber.Ctx) error { return errorx.NewEntityNotFoundError("Note", 7) })
		app.Get("/invalid", func(*fiber.Ctx) error {
			type body struct {
				Text string `validate:"required"`
			}

			return errorx.NewValidationFailedErrorWrapper(validator.NewValidator().Validate(&body{}), "invalid body")
		})
		app.Get("/locked", func(*fiber.Ctx) error {
			return errorx.NewStoreOperationFailedErrorWrapper(errors.Wrap(dbx.ErrLockNotAvailable, "notes"), "store operation failed")
		})
		app.Get("/boom", func(*fiber.Ctx) error { return errors.New("secret detail") })
	})

	return srv.GetServer()
}

func call(t *testing.T, app *fiber.App, path string) (int, fibersrv.ErrorResponse) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body fibersrv.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &body))

	return resp.StatusCode, body
}

func TestErrorHandler(t *testing.T) {
	app := newServer(t)

	status, body := call(t, app, "/missing")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Contains(t, body.Message, "Note")

	status, body = call(t, app, "/invalid")
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.Len(t, body.Details, 1)
	assert.Equal(t, "required", body.Details[0].Tag)

	status, _ = call(t, app, "/locked")
	assert.Equal(t, fiber.StatusLocked, status)

	status, body = call(t, app, "/boom")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "internal error", body.Message)

	status, _ = call(t, app, "/nowhere")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"constraint", errorx.NewConstraintViolationError("notes_external_id_key", "duplicate"), fiber.StatusConflict},
		{"chained update", errorx.NewStepFailedError(2, "update-related-query", errorx.NewChainedUpdateFailedError(0, "no rows")), fiber.StatusConflict},
		{"fiber error", fiber.ErrMethodNotAllowed, fiber.StatusMethodNotAllowed},
		{"store", errorx.NewStoreOperationFailedErrorWrapper(errors.New("eof"), "store operation failed"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fibersrv.StatusOf(tt.err))
		})
	}
}
