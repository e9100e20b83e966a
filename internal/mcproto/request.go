package mcproto

import (
	"fmt"
	"regexp"
	"strings"
)

// Op identifies the kind of memcache operation a Req carries.
type Op int

const (
	OpGet Op = iota
	OpSet
	OpAdd
	OpReplace
	OpDelete
	OpIncr
	OpDecr
	OpMetaGet
	OpLeaseGet
	OpLeaseSet
	OpStats
	OpVersion
	OpGetServiceInfo
	OpOther
)

var opNames = map[Op]string{
	OpGet:             "get",
	OpSet:             "set",
	OpAdd:             "add",
	OpReplace:         "replace",
	OpDelete:          "delete",
	OpIncr:            "incr",
	OpDecr:            "decr",
	OpMetaGet:         "metaget",
	OpLeaseGet:        "lease_get",
	OpLeaseSet:        "lease_set",
	OpStats:           "stats",
	OpVersion:         "version",
	OpGetServiceInfo:  "get_service_info",
	OpOther:           "other",
}

// String implements fmt.Stringer.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "other"
}

// IsBypass reports whether op is exempt from admission rate limiting.
func (o Op) IsBypass() bool {
	return o == OpStats || o == OpVersion || o == OpGetServiceInfo
}

// IsWrite reports whether op mutates backend state, as opposed to
// reading it. MigratedRoute consults this to decide whether a request
// inside a migration's warm-up window must be dual-routed.
func (o Op) IsWrite() bool {
	switch o {
	case OpSet, OpAdd, OpReplace, OpDelete, OpIncr, OpDecr, OpLeaseSet:
		return true
	default:
		return false
	}
}

// Result is the outcome of a dispatched request, carried on Reply.
type Result int

const (
	ResultOK Result = iota
	ResultNotFound
	ResultStored
	ResultNotStored
	ResultExists
	ResultRemoteError
	ResultLocalError
	ResultConnectError
	ResultTimeout
	ResultTKO
	ResultBusy
	ResultInvalidRequest
)

var resultNames = map[Result]string{
	ResultOK:             "ok",
	ResultNotFound:       "not-found",
	ResultStored:         "stored",
	ResultNotStored:      "not-stored",
	ResultExists:         "exists",
	ResultRemoteError:    "remote-error",
	ResultLocalError:     "local-error",
	ResultConnectError:   "connect-error",
	ResultTimeout:        "timeout",
	ResultTKO:            "tko",
	ResultBusy:           "busy",
	ResultInvalidRequest: "invalid-request",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "unknown"
}

// IsError reports whether r is one of the error results, as opposed to
// the success/ok taxonomy used for request_success_stat /
// request_error_stat accounting.
func (r Result) IsError() bool {
	switch r {
	case ResultOK, ResultStored, ResultNotStored, ResultExists, ResultNotFound:
		return false
	default:
		return true
	}
}

// ReplyCallback delivers a finished Reply back to whatever originated
// the Req (a transport connection, a test harness, ...). It must be
// safe to call from the worker's event-loop goroutine.
type ReplyCallback func(*Reply)

// Reply is {operation echo, result code, optional value bytes}.
type Reply struct {
	Op     Op
	Result Result
	Value  []byte
}

func NewLocalErrorReply(op Op, message string) *Reply {
	return &Reply{Op: op, Result: ResultLocalError, Value: []byte(message)}
}

// internalGetPrefix is the sentinel prefix that rewrites a GET into a
// get_service_info request.
const internalGetPrefix = "__mcrouter__."

// Req is an admitted, already-parsed memcache request. It is immutable
// except for the bookkeeping the internal-GET rewrite performs at
// construction time, and the reply-once discipline enforced by
// SetReply.
type Req struct {
	Op       Op
	Key      []byte
	Value    []byte
	Flags    uint32
	Exptime  uint32
	Cas      uint64
	SenderID string

	// origOp is the client-visible operation, preserved across the
	// internal-GET rewrite so the outbound reply can restore it.
	origOp        Op
	rewrittenGet  bool

	// FailoverDisabled opts a request out of FailoverRoute's retry
	// behavior; CloneForShadow sets it on shadow copies.
	FailoverDisabled bool

	replyCB  ReplyCallback
	replied  bool
}

// NewReq validates and constructs a Req from already-decoded wire
// fields, applying the internal-GET rewrite in-place. cb is invoked
// exactly once when the request is replied.
func NewReq(op Op, key, value []byte, flags uint32, exptime uint32, cas uint64, senderID string, cb ReplyCallback) (*Req, error) {
	if cb == nil {
		return nil, fmt.Errorf("invalid-request: nil reply callback")
	}
	if op == OpGet && len(key) == 0 {
		return nil, fmt.Errorf("invalid-request: empty key")
	}

	r := &Req{
		Op:       op,
		Key:      key,
		Value:    value,
		Flags:    flags,
		Exptime:  exptime,
		Cas:      cas,
		SenderID: senderID,
		origOp:   op,
		replyCB:  cb,
	}

	if op == OpGet && strings.HasPrefix(string(key), internalGetPrefix) {
		r.rewrittenGet = true
		r.Op = OpGetServiceInfo
		r.Key = key[len(internalGetPrefix):]
	}

	return r, nil
}

// ClientVisibleOp is the op the caller outside the proxy should see on
// the outbound reply: the original op, regardless of any internal
// rewrite applied on admission.
func (r *Req) ClientVisibleOp() Op {
	if r.rewrittenGet {
		return OpGet
	}
	return r.origOp
}

// SetReply delivers reply exactly once; subsequent calls are ignored.
func (r *Req) SetReply(reply *Reply) {
	if r.replied {
		return
	}
	r.replied = true
	reply.Op = r.ClientVisibleOp()
	r.replyCB(reply)
}

// Replied reports whether SetReply has already fired.
func (r *Req) Replied() bool {
	return r.replied
}

// CloneForShadow builds a detached copy of r suitable for firing at a
// shadow destination: failover is disabled (a shadow probe must never
// retry a live client) and its reply is discarded rather than routed
// back to the original caller.
func (r *Req) CloneForShadow() *Req {
	return &Req{
		Op:               r.Op,
		Key:              r.Key,
		Value:            r.Value,
		Flags:            r.Flags,
		Exptime:          r.Exptime,
		Cas:              r.Cas,
		SenderID:         r.SenderID,
		origOp:           r.origOp,
		rewrittenGet:     r.rewrittenGet,
		FailoverDisabled: true,
		replyCB:          func(*Reply) {},
	}
}

// RoutingPrefix is a parsed "/region/cluster/" routing key prefix.
type RoutingPrefix struct {
	Region  string
	Cluster string
}

var routingPrefixRegexp = regexp.MustCompile(`^/[^/]+/[^/]+/?$`)

// ParseRoutingPrefix validates and parses a routing prefix, normalizing
// a missing trailing slash. It matches the behavior of
// proxy_set_default_route in the original mcrouter source.
func ParseRoutingPrefix(s string) (*RoutingPrefix, string, error) {
	if !routingPrefixRegexp.MatchString(s) {
		return nil, "", fmt.Errorf("config-logic: routing prefix %q must match ^/[^/]+/[^/]+/?$", s)
	}

	normalized := s
	if !strings.HasSuffix(normalized, "/") {
		normalized += "/"
	}

	regionEnd := strings.Index(normalized[1:], "/") + 1
	region := normalized[1:regionEnd]
	rest := normalized[regionEnd+1:]
	clusterEnd := strings.Index(rest, "/")
	cluster := rest[:clusterEnd]

	return &RoutingPrefix{Region: region, Cluster: cluster}, normalized, nil
}

var leadingRoutingPrefixRegexp = regexp.MustCompile(`^/[^/]+/[^/]+/`)

// SplitRoutingPrefix reports whether key begins with an explicit
// "/region/cluster/" routing prefix, returning the normalized prefix
// and the remainder of the key with that prefix stripped. It returns
// ok=false (and key unchanged) when no such prefix is present, so the
// caller falls back to the snapshot's default route.
func SplitRoutingPrefix(key []byte) (prefix string, rest []byte, ok bool) {
	loc := leadingRoutingPrefixRegexp.FindIndex(key)
	if loc == nil {
		return "", key, false
	}
	return string(key[loc[0]:loc[1]]), key[loc[1]:], true
}
