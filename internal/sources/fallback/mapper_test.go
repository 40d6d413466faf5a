package fallback

import (
	"errors"
	"testing"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
)

func TestMapperMapAccounts(t *testing.T) {
	config := FallbackConfig{
		Accounts: map[string]AccountProps{
			"@alice.example.com": {
				DID:     "did:plc:alice",
				Profile: ProfileProps{DisplayName: "Alice", Avatar: "https://cdn.example/a.jpg"},
				Posts: []PostProps{
					{RKey: "3kabc", Text: "first", CreatedAt: "2024-05-01T10:00:00Z"},
					{URI: "at://did:plc:alice/app.bsky.feed.post/3kdef", Text: "second"},
				},
			},
		},
	}

	list, err := NewMapper().MapAccounts(config)
	if err != nil {
		t.Fatalf("MapAccounts() error = %v", err)
	}

	did, ok := list.DID("alice.example.com")
	if !ok || did != "did:plc:alice" {
		t.Errorf("DID() = %q, %v", did, ok)
	}

	profile, ok := list.Profile("@alice.example.com")
	if !ok || profile.DisplayName != "Alice" || profile.Handle != "alice.example.com" {
		t.Errorf("Profile() = %+v, %v", profile, ok)
	}

	page, ok := list.Posts("alice.example.com", 0)
	if !ok || len(page.Feed) != 2 {
		t.Fatalf("Posts() = %+v, %v", page, ok)
	}
	first := page.Feed[0].Post
	if first.URI != "at://did:plc:alice/app.bsky.feed.post/3kabc" || first.ID != "3kabc" {
		t.Errorf("first post = %+v", first)
	}
	if first.Author.Avatar != "https://cdn.example/a.jpg" {
		t.Errorf("author avatar not mapped: %+v", first.Author)
	}
	if page.Cursor != "" {
		t.Errorf("fallback page cursor = %q, want empty", page.Cursor)
	}

	limited, _ := list.Posts("alice.example.com", 1)
	if len(limited.Feed) != 1 {
		t.Errorf("Posts(limit=1) returned %d items", len(limited.Feed))
	}
}

func TestMapperRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]AccountProps
	}{
		{name: "handle without domain", props: map[string]AccountProps{"alice": {DID: "did:plc:a"}}},
		{name: "did without prefix", props: map[string]AccountProps{"alice.example.com": {DID: "plc:a"}}},
		{name: "post without uri or rkey", props: map[string]AccountProps{"alice.example.com": {DID: "did:plc:a", Posts: []PostProps{{Text: "x"}}}}},
		{name: "bad uri", props: map[string]AccountProps{"alice.example.com": {DID: "did:plc:a", Posts: []PostProps{{URI: "https://x", Text: "x"}}}}},
		{name: "bad timestamp", props: map[string]AccountProps{"alice.example.com": {DID: "did:plc:a", Posts: []PostProps{{RKey: "k", CreatedAt: "yesterday"}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMapper().MapAccounts(FallbackConfig{Accounts: tt.props}); err == nil {
				t.Error("MapAccounts() should have failed")
			}
		})
	}
}

func TestMapperInvalidHandleWrapsSentinel(t *testing.T) {
	_, err := NewMapper().MapAccounts(FallbackConfig{Accounts: map[string]AccountProps{"nodot": {DID: "did:plc:a"}}})
	if !errors.Is(err, domain.ErrInvalidIdentifier) {
		t.Errorf("error = %v, want ErrInvalidIdentifier", err)
	}
}

func TestNilAllowList(t *testing.T) {
	var list *AllowList
	if _, ok := list.DID("alice.example.com"); ok {
		t.Error("nil list should not resolve")
	}
	if _, ok := list.Posts("alice.example.com", 10); ok {
		t.Error("nil list should have no posts")
	}
	if list.Len() != 0 {
		t.Error("nil list Len() != 0")
	}
}
