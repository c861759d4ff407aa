package wfst

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

var ErrUnexpectedResponse = errors.New("unexpected transaction response")

// Summary is what a feature server reports back for a transaction.
type Summary struct {
	Inserted    int      `json:"inserted"`
	Updated     int      `json:"updated"`
	Deleted     int      `json:"deleted"`
	InsertedIDs []string `json:"insertedIds,omitempty"`
}

// ExceptionError carries an OWS exception report returned instead of a
// transaction response.
type ExceptionError struct {
	Code    string
	Locator string
	Message string
}

func (e *ExceptionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no message"
	}
	if e.Code != "" {
		return fmt.Sprintf("service exception %s: %s", e.Code, msg)
	}
	return "service exception: " + msg
}

// ParseResponse reads a WFS 1.0/1.1/2.0 transaction response or exception report.
func ParseResponse(body []byte) (Summary, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	root := doc.Root()
	if root == nil {
		return Summary{}, fmt.Errorf("%w: empty document", ErrUnexpectedResponse)
	}

	switch root.Tag {
	case "ExceptionReport", "ServiceExceptionReport":
		return Summary{}, exception(root)

	case "TransactionResponse":
		var s Summary
		s.Inserted = intText(root.FindElement(".//totalInserted"))
		s.Updated = intText(root.FindElement(".//totalUpdated"))
		s.Deleted = intText(root.FindElement(".//totalDeleted"))
		for _, f := range root.FindElements(".//InsertResults/Feature") {
			for _, id := range f.ChildElements() {
				if v := firstAttr(id, "fid", "rid"); v != "" {
					s.InsertedIDs = append(s.InsertedIDs, v)
				}
			}
		}
		return s, nil

	case "WFS_TransactionResponse":
		if root.FindElement(".//Status/FAILED") != nil {
			msg := ""
			if m := root.FindElement(".//Message"); m != nil {
				msg = strings.TrimSpace(m.Text())
			}
			return Summary{}, &ExceptionError{Code: "FAILED", Message: msg}
		}
		var s Summary
		for _, id := range root.FindElements(".//InsertResult/FeatureId") {
			if v := firstAttr(id, "fid"); v != "" {
				s.InsertedIDs = append(s.InsertedIDs, v)
			}
		}
		s.Inserted = len(s.InsertedIDs)
		return s, nil

	default:
		return Summary{}, fmt.Errorf("%w: root element %q", ErrUnexpectedResponse, root.Tag)
	}
}

func exception(root *etree.Element) error {
	ex := root.FindElement(".//Exception")
	if ex == nil {
		ex = root.FindElement(".//ServiceException")
	}
	if ex == nil {
		return &ExceptionError{}
	}
	out := &ExceptionError{
		Code:    firstAttr(ex, "exceptionCode", "code"),
		Locator: firstAttr(ex, "locator"),
	}
	if t := ex.FindElement(".//ExceptionText"); t != nil {
		out.Message = strings.TrimSpace(t.Text())
	} else {
		out.Message = strings.TrimSpace(ex.Text())
	}
	return out
}

func intText(el *etree.Element) int {
	if el == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(el.Text()))
	if err != nil {
		return 0
	}
	return n
}

// firstAttr matches on local attribute names, ignoring prefixes.
func firstAttr(el *etree.Element, keys ...string) string {
	for _, k := range keys {
		for _, a := range el.Attr {
			if a.Key == k {
				return a.Value
			}
		}
	}
	return ""
}
