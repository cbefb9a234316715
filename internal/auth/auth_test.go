package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyAcceptsCorrectKey(t *testing.T) {
	hash, err := HashKey("super-secret")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}

	a := NewAdminAuth(hash)
	if err := a.Verify("super-secret"); err != nil {
		t.Errorf("Verify() with correct key = %v, want nil", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	hash, _ := HashKey("super-secret")
	a := NewAdminAuth(hash)

	if err := a.Verify("wrong"); err != ErrUnauthorized {
		t.Errorf("Verify() with wrong key = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyEmptyHashDeniesAll(t *testing.T) {
	a := NewAdminAuth("")

	if err := a.Verify("anything"); err != ErrUnauthorized {
		t.Errorf("Verify() with empty hash = %v, want ErrUnauthorized", err)
	}
	if err := a.Verify(""); err != ErrUnauthorized {
		t.Errorf("Verify() with empty key = %v, want ErrUnauthorized", err)
	}
}

func TestHashKeySalted(t *testing.T) {
	first, _ := HashKey("key")
	second, _ := HashKey("key")

	// Different calls should produce different hashes (bcrypt uses random salt)
	if first == second {
		t.Error("expected distinct hashes for repeated HashKey calls")
	}
}

func TestMiddleware(t *testing.T) {
	hash, _ := HashKey("admin-key")
	a := NewAdminAuth(hash)

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		setHeader  func(r *http.Request)
		wantStatus int
	}{
		{
			name:       "bearer token accepted",
			setHeader:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer admin-key") },
			wantStatus: http.StatusOK,
		},
		{
			name:       "x-admin-key accepted",
			setHeader:  func(r *http.Request) { r.Header.Set("X-Admin-Key", "admin-key") },
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing credentials rejected",
			setHeader:  func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong key rejected",
			setHeader:  func(r *http.Request) { r.Header.Set("X-Admin-Key", "nope") },
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/breakers/openai/reset", nil)
			tt.setHeader(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
