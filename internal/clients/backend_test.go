package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newStubBackend(t *testing.T, handler http.Handler) *Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBackend(srv.URL)
}

func TestUserByPhoneNotFound(t *testing.T) {
	backend := newStubBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := backend.UserByPhone(context.Background(), "5511999990000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUserByPhoneDecodesUser(t *testing.T) {
	var gotPath string
	backend := newStubBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{
			"id":          "user-1",
			"phoneNumber": "5511999990000",
			"name":        "Maria",
		})
	}))

	user, err := backend.UserByPhone(context.Background(), "5511999990000")
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v1/users/by-phone/5511999990000" {
		t.Fatalf("path = %q", gotPath)
	}
	if user.ID != "user-1" || user.Name != "Maria" {
		t.Fatalf("user = %+v", user)
	}
}

func TestCreatePetPostsPayload(t *testing.T) {
	var gotBody map[string]any
	backend := newStubBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"id": "pet-1", "name": "Rex"})
	}))

	pet, err := backend.CreatePet(context.Background(), "user-1", NewPet{
		Name: "Rex", Species: "dog", Breed: "vira-lata", BirthDate: "2024-08-01", Sex: "male", Weight: 8.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if pet.ID != "pet-1" {
		t.Fatalf("pet = %+v", pet)
	}
	if gotBody["name"] != "Rex" || gotBody["species"] != "dog" || gotBody["weight"] != 8.5 {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestServerErrorIsNotNotFound(t *testing.T) {
	backend := newStubBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := backend.SubscriptionFor(context.Background(), "user-1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want a plain upstream error", err)
	}
	if StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", StatusCode(err))
	}
}
