package cache

import "fmt"

const (
	// KeyPrefixFeed is the prefix for author/home feed pages.
	KeyPrefixFeed = "feed:"
	// KeyPrefixUserPosts is the prefix for authored-only pages.
	KeyPrefixUserPosts = "user-posts:"
	// KeyPrefixResponse is the prefix for whole HTTP responses.
	KeyPrefixResponse = "response:"
)

// FeedKey returns the key for a feed page: feed:{handle}:{limit}:{cursor}.
func FeedKey(handle string, limit int, cursor string) string {
	return fmt.Sprintf("%s%s:%d:%s", KeyPrefixFeed, handle, limit, cursor)
}

// UserPostsKey returns the key for an authored-only page.
func UserPostsKey(handle string, limit int, cursor string) string {
	return fmt.Sprintf("%s%s:%d:%s", KeyPrefixUserPosts, handle, limit, cursor)
}

// ActorPrefixes lists the prefixes covering every cached page of handle.
func ActorPrefixes(handle string) []string {
	return []string{
		KeyPrefixFeed + handle + ":",
		KeyPrefixUserPosts + handle + ":",
	}
}

// ResponseKey returns the key for a cached HTTP response body.
func ResponseKey(canonicalURL string) string {
	return KeyPrefixResponse + canonicalURL
}
