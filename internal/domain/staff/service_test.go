package staff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/preop/preop/internal/platform/auth"
)

type mockRepo struct {
	users map[uuid.UUID]*User
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockRepo) Create(_ context.Context, u *User) error {
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockRepo) List(_ context.Context) ([]*User, error) {
	var out []*User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func testJWT() auth.JWTConfig {
	return auth.JWTConfig{
		Secret: []byte("test-secret-test-secret-test-secret"),
		Expiry: time.Hour,
	}
}

func TestCreateUser_HashesPassword(t *testing.T) {
	svc := NewService(newMockRepo(), testJWT())

	u, err := svc.CreateUser(context.Background(), "Nurse@Clinic.es", "Marta", auth.RoleNurse, "s3guro-pass")
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	if u.Email != "nurse@clinic.es" {
		t.Errorf("expected normalized email, got %s", u.Email)
	}
	if u.PasswordHash == "" || u.PasswordHash == "s3guro-pass" {
		t.Error("expected password stored as a hash")
	}
}

func TestCreateUser_Validation(t *testing.T) {
	svc := NewService(newMockRepo(), testJWT())
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "", "Marta", auth.RoleNurse, "s3guro-pass"); err == nil {
		t.Error("expected error for missing email")
	}
	if _, err := svc.CreateUser(ctx, "a@b.es", "Marta", "doctor", "s3guro-pass"); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := svc.CreateUser(ctx, "a@b.es", "Marta", auth.RoleNurse, "corta"); err == nil {
		t.Error("expected error for short password")
	}

	if _, err := svc.CreateUser(ctx, "a@b.es", "Marta", auth.RoleNurse, "s3guro-pass"); err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "a@b.es", "Otra", auth.RoleNurse, "s3guro-pass"); err == nil {
		t.Error("expected error for duplicate email")
	}
}

func TestLogin(t *testing.T) {
	svc := NewService(newMockRepo(), testJWT())
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, "owner@clinic.es", "Carmen", auth.RoleOwner, "s3guro-pass")
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}

	token, u, err := svc.Login(ctx, "owner@clinic.es", "s3guro-pass")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if token == "" {
		t.Error("expected a token")
	}
	if u.ID != created.ID {
		t.Error("expected the created user returned")
	}

	// Both failure modes collapse into the same error.
	if _, _, err := svc.Login(ctx, "owner@clinic.es", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@clinic.es", "s3guro-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}
