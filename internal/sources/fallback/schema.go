package fallback

// FallbackConfig is the top-level structure of the fallback YAML file.
//
//	accounts:
//	  alice.example.com:
//	    did: did:plc:abc123
//	    profile:
//	      displayName: Alice
//	    posts:
//	      - rkey: 3kabc
//	        text: hello
//	        createdAt: 2024-05-01T10:00:00Z
type FallbackConfig struct {
	Accounts map[string]AccountProps `yaml:"accounts"`
}

// AccountProps describes one degraded account.
type AccountProps struct {
	DID     string       `yaml:"did"`
	Profile ProfileProps `yaml:"profile,omitempty"`
	Posts   []PostProps  `yaml:"posts,omitempty"`
}

type ProfileProps struct {
	DisplayName string `yaml:"displayName,omitempty"`
	Description string `yaml:"description,omitempty"`
	Avatar      string `yaml:"avatar,omitempty"`
}

// PostProps is a post served when the account's records cannot be listed.
// Either URI or RKey must be set; URI wins when both are present.
type PostProps struct {
	URI       string `yaml:"uri,omitempty"`
	RKey      string `yaml:"rkey,omitempty"`
	CID       string `yaml:"cid,omitempty"`
	Text      string `yaml:"text"`
	CreatedAt string `yaml:"createdAt,omitempty"` // RFC 3339
}
