package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/autoapply/autoapply/internal/llm"
)

// DefaultFormFields is the fixed set of logical field names the mapper asks
// selectors for. Workers carry hardcoded fallback selectors for the same
// set, so hints are an optimization, never a dependency.
var DefaultFormFields = []string{
	"first_name", "last_name", "email", "phone",
	"resume", "cover_letter", "linkedin",
}

const (
	fieldMapFetchTimeout = 10 * time.Second
	fieldMapMaxHTMLChars = 4000
	fieldMapMinHTMLChars = 20

	fieldMapUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// FieldMapper precomputes CSS selector hints for job application forms by
// showing the form-relevant fragment of the page to an LLM. Every failure
// mode degrades to "no hints".
type FieldMapper struct {
	client     llm.Client
	httpClient *http.Client
}

// NewFieldMapper creates a field mapper backed by the given LLM client,
// which may be nil when no API key is configured.
func NewFieldMapper(client llm.Client) *FieldMapper {
	return &FieldMapper{
		client:     client,
		httpClient: &http.Client{Timeout: fieldMapFetchTimeout},
	}
}

// Analyze fetches the job page and maps field names to prioritized selector
// lists. Returns nil on any failure or timeout; it never returns an error.
func (m *FieldMapper) Analyze(ctx context.Context, jobURL string, fields []string) map[string][]string {
	if m.client == nil {
		return nil
	}
	if len(fields) == 0 {
		fields = DefaultFormFields
	}

	html, err := m.fetchPage(ctx, jobURL)
	if err != nil {
		return nil
	}

	stripped := stripToFormElements(html)
	if len(stripped) < fieldMapMinHTMLChars {
		return nil
	}

	response, err := m.client.GenerateJSON(ctx, fieldMapPrompt(stripped, fields), llm.TierLite)
	if err != nil {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(response)), &parsed); err != nil {
		return nil
	}

	result := make(map[string][]string)
	for key, value := range parsed {
		list, ok := value.([]any)
		if !ok {
			continue
		}
		selectors := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				selectors = append(selectors, s)
			}
		}
		if len(selectors) > 0 {
			result[key] = selectors
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func (m *FieldMapper) fetchPage(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fieldMapFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", fieldMapUserAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}
	html, err := doc.Html()
	if err != nil {
		return "", err
	}
	return html, nil
}

// stripToFormElements reduces a page to its form-relevant elements, bounded
// to keep prompt costs low.
func stripToFormElements(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	doc.Find("form, input, textarea, select, option, label, button, fieldset, legend").
		EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			fragment, err := goquery.OuterHtml(sel)
			if err != nil {
				return true
			}
			fragment = strings.TrimSpace(fragment)
			if fragment == "" {
				return true
			}
			if sb.Len()+len(fragment) > fieldMapMaxHTMLChars {
				return false
			}
			sb.WriteString(fragment)
			sb.WriteString("\n")
			return true
		})

	return strings.TrimSpace(sb.String())
}

func fieldMapPrompt(formHTML string, fields []string) string {
	return fmt.Sprintf(`You are analyzing a job application form. Given the form HTML below, map each of these logical field names to a prioritized list of CSS selectors that would locate the matching input element: %s.

Respond with a single JSON object of the shape {"field_name": ["selector1", "selector2"]}. Omit fields that have no matching element. Do not include any text outside the JSON object.

Form HTML:
%s`, strings.Join(fields, ", "), formHTML)
}
