package assist

// Assistant bundles the external classification/mapping client with its
// deterministic fallbacks. Every use case is functionally complete without
// any external call; the client only ever refines prose or confidence.
type Assistant struct {
	client *Client
	rules  FormRules
}

func New(client *Client, rules FormRules) *Assistant {
	if client == nil {
		client = NewClient("", "", "")
	}
	return &Assistant{client: client, rules: rules}
}

// NewOffline builds an assistant with no external client; everything runs on
// deterministic fallbacks.
func NewOffline() *Assistant {
	return New(nil, DefaultFormRules())
}
