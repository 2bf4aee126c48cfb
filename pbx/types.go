package pbx

type (
	// GetQuery selects what a ClientGet returns. What is a space separated
	// list of "desc", "sub", "data", "del" and "tags".
	GetQuery struct {
		What string
		Desc *GetOpts
		Sub  *GetOpts
		Data *GetOpts
	}

	// GetOpts narrows a GetQuery. IfModifiedSince is in unix milliseconds.
	// SinceID is inclusive, BeforeID exclusive.
	GetOpts struct {
		IfModifiedSince int64
		User            string
		Topic           string
		SinceID         int32
		BeforeID        int32
		Limit           int32
	}

	// SetQuery carries the fields a ClientSet or ClientSub changes.
	SetQuery struct {
		Desc *SetDesc
		Sub  *SetSub
		Tags []string
	}

	SetDesc struct {
		DefaultAcs *DefaultAcsMode
		Public     []byte
		Private    []byte
	}

	SetSub struct {
		UserID string
		Mode   string
	}

	// SeqRange is an inclusive-exclusive range of message ids. Hi of 0
	// denotes the single id Low.
	SeqRange struct {
		Low int32 `json:"low,omitempty"`
		Hi  int32 `json:"hi,omitempty"`
	}

	AccessMode struct {
		Want  string `json:"want,omitempty"`
		Given string `json:"given,omitempty"`
	}

	DefaultAcsMode struct {
		Auth string `json:"auth,omitempty"`
		Anon string `json:"anon,omitempty"`
	}

	// TopicDesc is the description of a topic. Times are unix milliseconds.
	TopicDesc struct {
		CreatedAt int64
		UpdatedAt int64
		TouchedAt int64
		Defacs    *DefaultAcsMode
		Acs       *AccessMode
		SeqID     int32
		ReadID    int32
		RecvID    int32
		DelID     int32
		Public    []byte
		Private   []byte
	}

	// TopicSub describes one subscription: a user subscribed to a topic, or a
	// topic the current user is subscribed to. Times are unix milliseconds.
	TopicSub struct {
		UpdatedAt         int64
		DeletedAt         int64
		Online            bool
		Acs               *AccessMode
		ReadID            int32
		RecvID            int32
		Public            []byte
		Private           []byte
		UserID            string
		Topic             string
		TouchedAt         int64
		SeqID             int32
		DelID             int32
		LastSeenTime      int64
		LastSeenUserAgent string
	}

	DelValues struct {
		DelID  int32
		DelSeq []SeqRange
	}
)

// Contains reports whether id falls within the range.
func (x SeqRange) Contains(id int32) bool {
	if x.Hi == 0 {
		return id == x.Low
	}
	return id >= x.Low && id < x.Hi
}
