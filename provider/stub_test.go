package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"dealdesk/envelope"
)

func TestStubCreateEnvelopeAutoComplete(t *testing.T) {
	stub := NewStub(NewStubStore(), true)

	created, err := stub.CreateEnvelope(context.Background(), envelope.CreateParams{
		Documents: []envelope.Document{
			{DocType: "BUYERS_ORDER", Title: "Buyer's Order", Content: []byte("order ")},
			{DocType: "PRIVACY_NOTICE", Title: "Privacy Notice", Content: []byte("notice")},
		},
	})
	if err != nil {
		t.Fatalf("CreateEnvelope: %v", err)
	}
	if created.Status != envelope.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", created.Status)
	}
	if string(created.Artifact) != "order notice" {
		t.Fatalf("artifact = %q", created.Artifact)
	}
}

func TestStubCreateEnvelopeManual(t *testing.T) {
	store := NewStubStore()
	stub := NewStub(store, false)

	created, err := stub.CreateEnvelope(context.Background(), envelope.CreateParams{})
	if err != nil {
		t.Fatalf("CreateEnvelope: %v", err)
	}
	if created.Status != envelope.StatusSent {
		t.Fatalf("status = %s, want SENT", created.Status)
	}

	if err := store.SetStatus(created.ProviderEnvelopeID, envelope.StatusViewed); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, err := stub.GetEnvelope(context.Background(), created.ProviderEnvelopeID)
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	if got.Status != envelope.StatusViewed {
		t.Fatalf("status = %s, want VIEWED", got.Status)
	}
}

func TestStubVoidEnvelope(t *testing.T) {
	stub := NewStub(NewStubStore(), false)

	created, _ := stub.CreateEnvelope(context.Background(), envelope.CreateParams{})
	if err := stub.VoidEnvelope(context.Background(), created.ProviderEnvelopeID, "dead deal"); err != nil {
		t.Fatalf("VoidEnvelope: %v", err)
	}
	got, _ := stub.GetEnvelope(context.Background(), created.ProviderEnvelopeID)
	if got.Status != envelope.StatusVoided {
		t.Fatalf("status = %s, want VOIDED", got.Status)
	}

	if err := stub.VoidEnvelope(context.Background(), "stub_missing", "x"); err == nil {
		t.Fatal("expected error voiding unknown envelope")
	}
}

func TestStubStoresAreIsolated(t *testing.T) {
	a := NewStub(NewStubStore(), false)
	b := NewStub(NewStubStore(), false)

	created, _ := a.CreateEnvelope(context.Background(), envelope.CreateParams{})
	if _, err := b.GetEnvelope(context.Background(), created.ProviderEnvelopeID); err == nil {
		t.Fatal("expected envelope to be invisible to a different store")
	}
}

func TestStubVerifyWebhook(t *testing.T) {
	stub := NewStub(NewStubStore(), false)

	event, err := stub.VerifyWebhook(http.Header{}, []byte(`{
		"provider_envelope_id": "stub_1",
		"event_type": "viewed",
		"status": "VIEWED",
		"event_id": "evt_1"
	}`))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Provider != NameStub || event.ProviderEnvelopeID != "stub_1" || event.ProviderEventID != "evt_1" {
		t.Fatalf("unexpected event identity: %+v", event)
	}
	if event.Status != envelope.StatusViewed {
		t.Fatalf("status = %s, want VIEWED", event.Status)
	}
}

func TestStubVerifyWebhookUnknownStatusIsError(t *testing.T) {
	stub := NewStub(NewStubStore(), false)

	event, err := stub.VerifyWebhook(http.Header{}, []byte(`{
		"provider_envelope_id": "stub_1",
		"event_type": "mystery",
		"status": "HALF_DONE",
		"event_id": "evt_2"
	}`))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Status != envelope.StatusError {
		t.Fatalf("status = %s, want ERROR", event.Status)
	}
}

func TestStubVerifyWebhookRejectsMalformed(t *testing.T) {
	stub := NewStub(NewStubStore(), false)

	for _, body := range []string{
		"not json",
		`{"event_type": "viewed", "status": "VIEWED", "event_id": "evt_3"}`,
		`{"provider_envelope_id": "stub_1", "event_type": "viewed", "status": "VIEWED"}`,
	} {
		if _, err := stub.VerifyWebhook(http.Header{}, []byte(body)); !errors.Is(err, envelope.ErrBadSignature) {
			t.Fatalf("body %q: err = %v, want ErrBadSignature", body, err)
		}
	}
}

func TestFromConfig(t *testing.T) {
	if _, err := FromConfig(Config{Name: "docusign"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("err = %v, want ErrUnsupportedProvider", err)
	}
	if _, err := FromConfig(Config{Name: NameSignWell}); err == nil {
		t.Fatal("expected error for signwell without api key")
	}
	p, err := FromConfig(Config{Name: NameStub})
	if err != nil {
		t.Fatalf("FromConfig stub: %v", err)
	}
	if p.Name() != NameStub {
		t.Fatalf("name = %q", p.Name())
	}
}

func TestRegistryLookup(t *testing.T) {
	stub := NewStub(NewStubStore(), false)
	reg := NewRegistry(stub)

	p, err := reg.Lookup(NameStub)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p.Name() != NameStub {
		t.Fatalf("name = %q", p.Name())
	}
	if _, err := reg.Lookup("docusign"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("err = %v, want ErrUnsupportedProvider", err)
	}
}
