package fallback

import (
	"github.com/MrSnakeDoc/skyembed/internal/domain"
)

// AllowList answers for accounts whose upstream data is known to be
// unavailable. A nil *AllowList is empty.
type AllowList struct {
	accounts map[string]*Account
}

// Load reads path and maps it. An empty path yields an empty list.
func Load(path string) (*AllowList, error) {
	if path == "" {
		return &AllowList{}, nil
	}
	config, err := NewLoader(path).Load()
	if err != nil {
		return nil, err
	}
	return NewMapper().MapAccounts(config)
}

func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.accounts)
}

func (a *AllowList) lookup(handle string) (*Account, bool) {
	if a == nil {
		return nil, false
	}
	acc, ok := a.accounts[domain.NormalizeHandle(handle)]
	return acc, ok
}

// DID returns the configured actor ID for handle.
func (a *AllowList) DID(handle string) (string, bool) {
	acc, ok := a.lookup(handle)
	if !ok {
		return "", false
	}
	return acc.DID, true
}

// Profile returns a copy of the configured profile for handle.
func (a *AllowList) Profile(handle string) (*domain.Profile, bool) {
	acc, ok := a.lookup(handle)
	if !ok {
		return nil, false
	}
	p := acc.Profile
	return &p, true
}

// Posts returns the configured posts as a single page without a cursor.
// It reports false when the account is unknown or has no posts.
func (a *AllowList) Posts(handle string, limit int) (*domain.FeedPage, bool) {
	acc, ok := a.lookup(handle)
	if !ok || len(acc.Posts) == 0 {
		return nil, false
	}
	n := len(acc.Posts)
	if limit > 0 && limit < n {
		n = limit
	}
	page := &domain.FeedPage{Feed: make([]domain.FeedItem, 0, n)}
	for i := 0; i < n; i++ {
		post := acc.Posts[i]
		page.Feed = append(page.Feed, domain.FeedItem{Post: &post})
	}
	return page, true
}
