package fallback

import (
	"fmt"
	"sort"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
)

// Account is a degraded account resolved from the allow-list.
type Account struct {
	Handle  string
	DID     string
	Profile domain.Profile
	Posts   []domain.Post
}

// Mapper converts the fallback file into an AllowList.
type Mapper struct{}

func NewMapper() *Mapper {
	return &Mapper{}
}

// MapAccounts validates every entry and builds the lookup table.
// A single invalid entry fails the whole file.
func (m *Mapper) MapAccounts(config FallbackConfig) (*AllowList, error) {
	accounts := make(map[string]*Account, len(config.Accounts))

	handles := make([]string, 0, len(config.Accounts))
	for h := range config.Accounts {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	for _, raw := range handles {
		props := config.Accounts[raw]
		handle := domain.NormalizeHandle(raw)
		if err := domain.ValidateHandle(handle); err != nil {
			return nil, fmt.Errorf("fallback account %q: %w", raw, err)
		}
		if !domain.IsActorID(props.DID) {
			return nil, fmt.Errorf("fallback account %q: did %q must start with did:", raw, props.DID)
		}

		author := domain.Author{
			DID:         props.DID,
			Handle:      handle,
			DisplayName: props.Profile.DisplayName,
			Avatar:      props.Profile.Avatar,
		}

		posts := make([]domain.Post, 0, len(props.Posts))
		for i, p := range props.Posts {
			post, err := mapPost(author, p)
			if err != nil {
				return nil, fmt.Errorf("fallback account %q post #%d: %w", raw, i+1, err)
			}
			posts = append(posts, post)
		}

		accounts[handle] = &Account{
			Handle: handle,
			DID:    props.DID,
			Profile: domain.Profile{
				DID:         props.DID,
				Handle:      handle,
				DisplayName: props.Profile.DisplayName,
				Description: props.Profile.Description,
				Avatar:      props.Profile.Avatar,
			},
			Posts: posts,
		}
	}

	return &AllowList{accounts: accounts}, nil
}

func mapPost(author domain.Author, p PostProps) (domain.Post, error) {
	uri := p.URI
	if uri == "" {
		if p.RKey == "" {
			return domain.Post{}, fmt.Errorf("either uri or rkey is required")
		}
		uri = domain.PostURI(author.DID, p.RKey)
	}
	if !domain.IsPostURI(uri) {
		return domain.Post{}, fmt.Errorf("%w: %q is not a post uri", domain.ErrInvalidIdentifier, uri)
	}

	var ts time.Time
	if p.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, p.CreatedAt)
		if err != nil {
			return domain.Post{}, fmt.Errorf("invalid createdAt %q: %w", p.CreatedAt, err)
		}
		ts = parsed
	}

	return domain.Post{
		URI:       uri,
		CID:       p.CID,
		ID:        domain.LastSegment(uri),
		Author:    author,
		Text:      p.Text,
		Timestamp: ts,
	}, nil
}
