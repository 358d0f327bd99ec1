package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/petvet-ai/whatsapp-handler/internal/clients"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
)

func subState(step string, data session.SubscriptionData) session.FlowState {
	return session.FlowState{Flow: session.FlowSubscription, Step: step, Subscription: &data}
}

func TestViewWithoutSubscriptionShowsPlans(t *testing.T) {
	sub := NewSubscription(testDeps(nil, nil, nil)) // SubscriptionFor -> ErrNotFound

	res, err := sub.Process(context.Background(), textInput(session.FlowState{Flow: session.FlowSubscription}, "planos"))
	if err != nil {
		t.Fatal(err)
	}

	text := firstText(res)
	for _, want := range []string{"Basico", "R$ 29,90/mes", "Familia", "Premium"} {
		if !strings.Contains(text, want) {
			t.Fatalf("plans = %q, missing %q", text, want)
		}
	}
	if res.State.Step != "select-plan" {
		t.Fatalf("state = %+v", res.State)
	}
}

func TestViewActiveSubscription(t *testing.T) {
	backend := &fakeBackend{
		subscriptionFor: func(string) (*clients.Subscription, error) {
			return &clients.Subscription{
				Plan:             "family",
				Status:           "active",
				CurrentPeriodEnd: "2026-09-28T00:00:00Z",
			}, nil
		},
	}
	sub := NewSubscription(testDeps(backend, nil, nil))

	res, err := sub.Process(context.Background(), textInput(session.FlowState{Flow: session.FlowSubscription}, "assinatura"))
	if err != nil {
		t.Fatal(err)
	}

	text := firstText(res)
	if !strings.Contains(text, "*Sua Assinatura*") || !strings.Contains(text, "Familia") {
		t.Fatalf("summary = %q", text)
	}
	if !strings.Contains(text, "28/09/2026") {
		t.Fatalf("summary = %q, want renewal date formatted", text)
	}
	ids := buttonIDs(res)
	if len(ids) != 3 || ids[0] != "upgrade-plan" || ids[1] != "cancel-subscription" {
		t.Fatalf("buttons = %v", ids)
	}
}

func TestPlanSelectionSynonyms(t *testing.T) {
	sub := NewSubscription(testDeps(nil, nil, nil))
	state := subState("select-plan", session.SubscriptionData{})

	tests := []struct {
		input string
		plan  string
	}{
		{"quero o plano basico", "basic"},
		{"1", "basic"},
		{"familia", "family"},
		{"2", "family"},
		{"premium", "premium"},
		{"3", "premium"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res, err := sub.Process(context.Background(), textInput(state, tt.input))
			if err != nil {
				t.Fatal(err)
			}
			if res.State.Step != "confirm" || res.State.Subscription.SelectedPlan != tt.plan {
				t.Fatalf("state = %+v, want confirm with plan %s", res.State, tt.plan)
			}
		})
	}
}

func TestPlanSelectionRejectsUnknown(t *testing.T) {
	sub := NewSubscription(testDeps(nil, nil, nil))
	state := subState("select-plan", session.SubscriptionData{})

	res, err := sub.Process(context.Background(), textInput(state, "plano diamante"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Step != "select-plan" {
		t.Fatalf("state = %+v, want to stay on selection", res.State)
	}
}

func TestConfirmWithoutAccountHandsOffToRegistration(t *testing.T) {
	sub := NewSubscription(testDeps(nil, nil, nil))

	fc := buttonInput(subState("confirm", session.SubscriptionData{SelectedPlan: "premium"}), "confirm-subscription")
	fc.Session.UserID = ""
	res, err := sub.Process(context.Background(), fc)
	if err != nil {
		t.Fatal(err)
	}

	if res.State.Flow != session.FlowRegistration {
		t.Fatalf("state = %+v, want registration", res.State)
	}
	reg := res.State.Registration
	if reg == nil || reg.ReturnFlow != session.FlowSubscription || reg.ReturnPlan != "premium" {
		t.Fatalf("registration data = %+v, want the plan carried through", reg)
	}
}

func TestConfirmWithCheckoutSendsPaymentLink(t *testing.T) {
	backend := &fakeBackend{
		createSubscription: func(userID, plan string) (*clients.SubscriptionResult, error) {
			return &clients.SubscriptionResult{CheckoutURL: "https://pay.petvet.ai/checkout/abc"}, nil
		},
	}
	sub := NewSubscription(testDeps(backend, nil, nil))

	state := subState("confirm", session.SubscriptionData{SelectedPlan: "family"})
	res, err := sub.Process(context.Background(), buttonInput(state, "confirm-subscription"))
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(firstText(res), "https://pay.petvet.ai/checkout/abc") {
		t.Fatalf("reply = %q, want the payment link", firstText(res))
	}
	if res.State.Flow != session.FlowMainMenu {
		t.Fatalf("state = %+v", res.State)
	}
}

func TestConfirmActivatesImmediatelyWithoutCheckout(t *testing.T) {
	sub := NewSubscription(testDeps(&fakeBackend{}, nil, nil)) // default: active, no checkout URL

	state := subState("confirm", session.SubscriptionData{SelectedPlan: "basic"})
	res, err := sub.Process(context.Background(), buttonInput(state, "confirm-subscription"))
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(firstText(res), "*Assinatura Ativada!*") {
		t.Fatalf("reply = %q", firstText(res))
	}
}

func TestSubscriptionFailureOffersRetry(t *testing.T) {
	backend := &fakeBackend{
		createSubscription: func(string, string) (*clients.SubscriptionResult, error) {
			return nil, errors.New("payment service unavailable")
		},
	}
	sub := NewSubscription(testDeps(backend, nil, nil))

	state := subState("confirm", session.SubscriptionData{SelectedPlan: "basic"})
	res, err := sub.Process(context.Background(), buttonInput(state, "confirm-subscription"))
	if err != nil {
		t.Fatal(err)
	}

	ids := buttonIDs(res)
	if len(ids) != 2 || ids[0] != "plan-basic" {
		t.Fatalf("buttons = %v, want retry with the same plan", ids)
	}
}

func TestCancellationRequiresConfirmation(t *testing.T) {
	cancelled := false
	backend := &fakeBackend{
		cancelSubscription: func(string) error {
			cancelled = true
			return nil
		},
	}
	sub := NewSubscription(testDeps(backend, nil, nil))

	res, err := sub.Process(context.Background(), buttonInput(subState("select-plan", session.SubscriptionData{}), "cancel-subscription"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Step != "cancel-confirm" || cancelled {
		t.Fatalf("state = %+v cancelled = %v, want confirmation first", res.State, cancelled)
	}

	res, err = sub.Process(context.Background(), buttonInput(res.State, "confirm-cancel"))
	if err != nil {
		t.Fatal(err)
	}
	if !cancelled {
		t.Fatal("cancellation never reached the backend")
	}
	if !strings.Contains(firstText(res), "cancelada") {
		t.Fatalf("reply = %q", firstText(res))
	}
	if res.State.Flow != session.FlowMainMenu {
		t.Fatalf("state = %+v", res.State)
	}
}
