package llm

import "testing"

func TestAlternateMergesAndTrims(t *testing.T) {
	got := alternate([]ChatMessage{
		{Role: RoleAssistant, Content: "welcome"},
		{Role: RoleUser, Content: "where is my order"},
		{Role: RoleUser, Content: "it is late"},
		{Role: RoleSystem, Content: "ignored"},
		{Role: RoleAssistant, Content: ""},
		{Role: RoleAssistant, Content: "checking"},
	})

	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d: %+v", len(got), got)
	}
	if got[0].Role != RoleUser || got[0].Content != "where is my order\n\nit is late" {
		t.Fatalf("unexpected first turn %+v", got[0])
	}
	if got[1].Role != RoleAssistant || got[1].Content != "checking" {
		t.Fatalf("unexpected second turn %+v", got[1])
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(ProviderAnthropic, ""); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := NewClient(ProviderOpenAI, ""); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := NewClient("mystery", "k"); err == nil {
		t.Fatalf("expected unknown provider error")
	}
	c, err := NewClient(ProviderOpenAI, "sk-test")
	if err != nil || c.Name() != "openai" {
		t.Fatalf("unexpected client %v %v", c, err)
	}
}
