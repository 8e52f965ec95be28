package auth

import (
	"context"
	"testing"

	"github.com/dukerupert/cohabit/internal/model"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{
		User:  model.User{ID: 1, Email: "pizza@test.com", Name: "승혜"},
		Admin: true,
	}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.User.ID != 1 {
		t.Errorf("UserID = %d, want 1", got.User.ID)
	}
	if got.User.Email != "pizza@test.com" {
		t.Errorf("Email = %q, want %q", got.User.Email, "pizza@test.com")
	}
	if !got.Admin {
		t.Error("expected Admin = true")
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestUser(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{User: model.User{ID: 7, Name: "가연"}})
	if u := User(ctx); u.Name != "가연" {
		t.Errorf("User = %+v", u)
	}
	if u := User(context.Background()); u.ID != 0 {
		t.Errorf("User on empty context = %+v, want zero", u)
	}
}

func TestUserID(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{User: model.User{ID: 7}})
	if UserID(ctx) != 7 {
		t.Errorf("UserID = %d, want 7", UserID(ctx))
	}
}

func TestUserIDMissing(t *testing.T) {
	if UserID(context.Background()) != 0 {
		t.Error("expected 0 for missing context")
	}
}

func TestIsAdmin(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{Admin: true})
	if !IsAdmin(ctx) {
		t.Error("expected IsAdmin = true")
	}
}

func TestIsAdminFalse(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{User: model.User{ID: 2}})
	if IsAdmin(ctx) {
		t.Error("expected IsAdmin = false for member")
	}
}

func TestIsAdminMissing(t *testing.T) {
	if IsAdmin(context.Background()) {
		t.Error("expected IsAdmin = false for missing context")
	}
}
