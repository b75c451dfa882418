package responses

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
)

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"status": "FULFILLED"})

	if got := w.Code; got != http.StatusCreated {
		t.Fatalf("expected status 201 but got %d", got)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "FULFILLED" {
		t.Fatalf("unexpected payload %v", body)
	}
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "user_id"})
	WriteError(t.Context(), nil, w, err)

	if got := w.Code; got != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 but got %d", got)
	}

	var body ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body.Error != string(pkgerrors.CodeValidation) || body.Message != "bad input" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Retryable {
		t.Fatal("validation errors are terminal")
	}
	if body.Details == nil {
		t.Fatalf("expected details in public payload")
	}
}

func TestWriteErrorStatusPerCode(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeSoldOut:        http.StatusGone,
		pkgerrors.CodeInvalidReceipt: http.StatusUnprocessableEntity,
		pkgerrors.CodeUnauthorized:   http.StatusUnauthorized,
		pkgerrors.CodeNotFound:       http.StatusNotFound,
		pkgerrors.CodeConflict:       http.StatusConflict,
		pkgerrors.CodeExpired:        http.StatusGone,
		pkgerrors.CodeRetryable:      http.StatusInternalServerError,
	}
	for code, status := range cases {
		w := httptest.NewRecorder()
		WriteError(t.Context(), nil, w, pkgerrors.New(code, "x"))
		if w.Code != status {
			t.Fatalf("%s: expected %d, got %d", code, status, w.Code)
		}
	}
}

func TestWriteErrorHidesDriverErrors(t *testing.T) {
	w := httptest.NewRecorder()
	driverErr := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "57P01", Message: "terminating connection"})
	WriteError(t.Context(), nil, w, driverErr)

	if got := w.Code; got != http.StatusInternalServerError {
		t.Fatalf("expected status 500 but got %d", got)
	}
	var body ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body.Error != string(pkgerrors.CodeRetryable) || !body.Retryable {
		t.Fatalf("expected retryable error, got %+v", body)
	}
	if body.Message == driverErr.Error() {
		t.Fatal("driver message leaked to client")
	}
	if body.Details != nil {
		t.Fatalf("details should be omitted for retryable errors")
	}
}

func TestWriteErrorNil(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(t.Context(), nil, w, errors.Join())
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestWriteBinary(t *testing.T) {
	w := httptest.NewRecorder()
	WriteBinary(w, "application/vnd.apple.pkpass", "vyris-gold-1.pkpass", []byte("PK"))
	if w.Header().Get("Content-Type") != "application/vnd.apple.pkpass" {
		t.Fatalf("unexpected content type %s", w.Header().Get("Content-Type"))
	}
	if w.Header().Get("Content-Disposition") != `attachment; filename="vyris-gold-1.pkpass"` {
		t.Fatalf("unexpected disposition %s", w.Header().Get("Content-Disposition"))
	}
	if w.Body.String() != "PK" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}
