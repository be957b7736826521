// Package e2e exercises the full retrieval pipeline against a generated knowledge base.
package e2e

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kbcopilot/internal/embedding"
	"github.com/hyperjump/kbcopilot/internal/models"
)

// E2EDocument is a document entry in the E2E corpus.
type E2EDocument struct {
	ID       string
	Title    string
	Category string
	Content  string
}

// QueryTestCase is a query and the documents that must be retrieved for it.
type QueryTestCase struct {
	Query          string
	ExpectedDocIDs []string
	Description    string
}

// Corpus holds documents and query test cases for E2E tests.
type Corpus struct {
	Documents    []E2EDocument
	TestCases    []QueryTestCase
	TotalDocs    int
	TotalQueries int
}

type topic struct {
	title    string
	category string
	query    string
	content  string
}

// Every query token occurs only in its own topic's content, so the target documents
// win on keyword overlap regardless of the embedding.
var topics = []topic{
	{"Parental Leave", "policy", "parental newborn", "Parental benefits give each parent sixteen paid weeks after a newborn arrives or an adoption is finalised."},
	{"Jury Service", "policy", "jury summons", "Staff called for jury service keep full pay. Forward the court summons to People Operations within five days."},
	{"Bereavement", "policy", "bereavement funeral", "Bereavement time of five days covers arranging or attending a funeral for close family members."},
	{"Badge Access", "facilities", "badge turnstile", "Your photo badge opens the lobby turnstile. Lost badges are deactivated immediately by reception."},
	{"Parking", "facilities", "parking garage", "Parking permits for the basement garage are allocated monthly by lottery through the facilities portal."},
	{"Printers", "it", "printer toner", "Each floor printer is enrolled automatically. Report low toner or paper jams with a helpdesk ticket."},
	{"VPN Access", "it", "vpn wireguard", "The corporate VPN uses a WireGuard client installed by device management. Connect before using internal dashboards."},
	{"Laptop Refresh", "it", "laptop refresh", "Laptop hardware is replaced on a three year refresh cycle; request an early swap if repairs exceed half its value."},
	{"Corporate Cards", "finance", "amex statement", "The Amex corporate card must be reconciled against each monthly statement within ten business days."},
	{"Travel Booking", "finance", "airfare hotel", "Book airfare and hotel rooms through the travel desk; economy class applies to flights under six hours."},
	{"Per Diem", "finance", "diem meals", "The per diem allowance covers meals and small extras at 55 USD daily for domestic trips."},
	{"Payroll", "finance", "payroll payslip", "Payroll runs on the last weekday of every month and each payslip is published in the HR portal."},
	{"Pension Plan", "benefits", "pension matching", "The pension plan offers matching contributions up to six percent of base salary after probation."},
	{"Health Insurance", "benefits", "dental vision", "Medical, dental and vision coverage starts on day one; dependants can be added during open enrolment."},
	{"Wellness Stipend", "benefits", "gym stipend", "A wellness stipend of 40 USD monthly reimburses gym memberships, yoga classes or sports clubs."},
	{"Mentoring", "career", "mentor mentee", "The mentoring programme pairs every mentee with a senior mentor for six monthly conversations."},
	{"Performance Reviews", "career", "calibration appraisal", "Annual appraisal conversations happen in March, followed by a calibration session across each department."},
	{"Promotions", "career", "promotion ladder", "Promotion decisions follow the career ladder; managers nominate candidates twice a year."},
	{"Whistleblowing", "policy", "whistleblower anonymous", "Concerns can be raised through the whistleblower line, which accepts anonymous reports around the clock."},
	{"Data Retention", "security", "retention archive", "Records follow the retention schedule: invoices are kept seven years, then moved to the archive and destroyed."},
	{"Backups", "security", "snapshot restore", "Servers take a nightly snapshot; a restore drill is performed every quarter to prove recovery works."},
	{"Password Reset", "security", "password reset", "Use the self-service portal to reset a forgotten password after confirming your identity with a second factor."},
	{"Phishing Drills", "security", "phishing simulated", "Quarterly simulated phishing emails measure awareness; clicking one assigns a short training module."},
	{"Office Hours", "facilities", "opening closing", "The office opening time is 07:30 and closing time is 20:00; weekend entry requires manager approval."},
	{"Visitors", "facilities", "visitor escort", "Every visitor signs in at reception and needs an escort beyond the lobby."},
}

// BuildCorpus returns n documents, cycling through the topics, and one query test case
// per topic expecting every document of that topic.
func BuildCorpus(n int) *Corpus {
	docs := make([]E2EDocument, 0, n)
	byTopic := make(map[int][]string)
	for i := 0; i < n; i++ {
		t := topics[i%len(topics)]
		id := fmt.Sprintf("e2e-doc-%03d", i+1)
		docs = append(docs, E2EDocument{
			ID:       id,
			Title:    fmt.Sprintf("%s (%d)", t.title, i+1),
			Category: t.category,
			Content:  t.content,
		})
		byTopic[i%len(topics)] = append(byTopic[i%len(topics)], id)
	}
	var cases []QueryTestCase
	for i, t := range topics {
		ids := byTopic[i]
		if len(ids) == 0 {
			continue
		}
		cases = append(cases, QueryTestCase{
			Query:          t.query,
			ExpectedDocIDs: ids,
			Description:    fmt.Sprintf("query %q returns %s", t.query, t.title),
		})
	}
	return &Corpus{
		Documents:    docs,
		TestCases:    cases,
		TotalDocs:    len(docs),
		TotalQueries: len(cases),
	}
}

// containsAllTokens reports whether every query token occurs in the document content,
// using the same substring rule as the keyword score.
func containsAllTokens(d E2EDocument, query string) bool {
	lower := strings.ToLower(d.Content)
	for _, tok := range embedding.Tokenize(query) {
		if !strings.Contains(lower, tok) {
			return false
		}
	}
	return true
}

// ToDocumentInputs converts the corpus documents to inputs for the indexer.
func (c *Corpus) ToDocumentInputs() []*models.DocumentInput {
	out := make([]*models.DocumentInput, len(c.Documents))
	for i := range c.Documents {
		d := &c.Documents[i]
		out[i] = &models.DocumentInput{
			ID:       d.ID,
			Title:    d.Title,
			Content:  d.Content,
			Category: d.Category,
		}
	}
	return out
}
