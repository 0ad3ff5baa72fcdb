package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oliveagle/jsonpath"
	"github.com/tidehq/tide/config"
	"github.com/tidehq/tide/model"
	"github.com/tidehq/tide/util"
)

var _ Source = new(hmacSource)

// hmacSource authenticates deliveries with an HMAC-SHA256 signature over
// the raw request body, hex encoded in a configurable header. This is the
// scheme used by Tailscale, Grafana and similar infrastructure services.
type hmacSource struct {
	conf config.WebhookSourceConfig
}

func NewHmacSource(conf config.WebhookSourceConfig) *hmacSource {
	if conf.SignatureHeader == "" {
		conf.SignatureHeader = "X-Signature"
	}
	if conf.EventTypePath == "" {
		conf.EventTypePath = "$.type"
	}
	return &hmacSource{conf: conf}
}

func (s *hmacSource) Name() string {
	return s.conf.Name
}

func (s *hmacSource) Verify(body []byte, headers http.Header) bool {
	if s.conf.Secret == "" {
		return true
	}
	signature := headers.Get(s.conf.SignatureHeader)
	// github-style headers prefix the hex digest with the algorithm
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.conf.Secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

func (s *hmacSource) DeliveryID(body []byte, headers http.Header) string {
	if s.conf.DeliveryIdHeader != "" {
		if id := headers.Get(s.conf.DeliveryIdHeader); id != "" {
			return s.conf.Name + ":" + id
		}
	}
	return s.conf.Name + ":" + util.ContentHash(string(body))
}

func (s *hmacSource) MapToTrigger(body []byte, headers http.Header) (*Trigger, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	event, err := lookupString(payload, s.conf.EventTypePath)
	if err != nil {
		return nil, err
	}
	workflowName, ok := s.conf.Triggers[event]
	if !ok {
		return nil, nil
	}
	itemId := ""
	if s.conf.ItemIdPath != "" {
		itemId, _ = lookupString(payload, s.conf.ItemIdPath)
	}
	if itemId == "" {
		itemId = util.ContentHash(s.conf.Name, string(body))
	}
	payload["event"] = event
	return &Trigger{
		WorkflowName: workflowName,
		Item: model.Item{
			Id:      itemId,
			Payload: payload,
		},
	}, nil
}

func lookupString(payload map[string]any, expression string) (string, error) {
	value, err := jsonpath.JsonPathLookup(payload, expression)
	if err != nil {
		return "", err
	}
	str, ok := value.(string)
	if !ok {
		return "", nil
	}
	return str, nil
}
