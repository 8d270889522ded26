// CRM surface handlers.
//
// These mount the endpoint shapes the guard classifies (contacts, login,
// exports) so the server can be exercised end to end. They validate input
// and echo it; persistence and authentication live elsewhere.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/crm-guard/internal/http/middleware"
)

// CreateContactRequest is the JSON payload for creating a contact.
type CreateContactRequest struct {
	FirstName string   `json:"first_name" binding:"required,max=100" example:"Mary"`
	LastName  string   `json:"last_name" binding:"max=100" example:"O'Brien"`
	Email     string   `json:"email" binding:"required,email,max=254" example:"mary@example.com"`
	Company   string   `json:"company" binding:"max=255" example:"Acme Ltd"`
	Tags      []string `json:"tags" binding:"max=20"`
}

// Contact is the echoed contact resource.
type Contact struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListContactsResponse echoes the accepted filters.
type ListContactsResponse struct {
	Contacts []Contact         `json:"contacts"`
	Filters  map[string]string `json:"filters"`
}

// LoginRequest is the JSON payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// CRM serves the guarded CRM endpoints.
type CRM struct {
	now func() time.Time
}

// NewCRM returns the CRM handlers.
func NewCRM() *CRM { return &CRM{now: time.Now} }

var contactFilters = []string{"search", "email", "company", "owner_id", "ordering"}

// ListContacts godoc
// @ID          listContacts
// @Summary     List contacts
// @Description Accepts the usual filters and echoes them back.
// @Tags        CRM
// @Produce     json
//
// @Param       search    query  string  false  "Free-text search"    example(acme)
// @Param       email     query  string  false  "Exact email"
// @Param       company   query  string  false  "Company name"
// @Param       owner_id  query  string  false  "Owner user id"       example(42)
// @Param       ordering  query  string  false  "Sort field"          example(-created_at)
//
// @Success     200  {object}  handlers.ListContactsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "SQL injection attempt detected"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limit exceeded"
// @Router      /contacts/ [get]
func (h *CRM) ListContacts(c *gin.Context) {
	filters := make(map[string]string)
	for _, k := range contactFilters {
		if v := strings.TrimSpace(c.Query(k)); v != "" {
			filters[k] = v
		}
	}
	ok(c, http.StatusOK, ListContactsResponse{Contacts: []Contact{}, Filters: filters})
}

// CreateContact godoc
// @ID          createContact
// @Summary     Create a contact
// @Tags        CRM
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateContactRequest  true  "Contact"
//
// @Success     201  {object}  handlers.Contact
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limit exceeded"
// @Router      /contacts/ [post]
func (h *CRM) CreateContact(c *gin.Context) {
	var req CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "invalid contact payload")
		return
	}
	ok(c, http.StatusCreated, Contact{
		ID:        uuid.NewString(),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Company:   strings.TrimSpace(req.Company),
		Tags:      req.Tags,
		OwnerID:   middleware.CallerFrom(c).UserID,
		CreatedAt: h.now().UTC(),
	})
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Validates credentials shape only. Limited by the login tier.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object}  map[string]string
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limit exceeded"
// @Router      /auth/login/ [post]
func (h *CRM) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "email and password (min 8 chars) required")
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "accepted"})
}

// Export godoc
// @ID          exportContacts
// @Summary     Queue a contact export
// @Description Limited by the export tier.
// @Tags        CRM
// @Produce     json
//
// @Param       format  query  string  false  "csv or xlsx"  default(csv)
//
// @Success     202  {object}  map[string]string
// @Failure     400  {object}  handlers.ErrorResponse  "Unsupported format"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limit exceeded"
// @Router      /exports/ [get]
func (h *CRM) Export(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	if format != "csv" && format != "xlsx" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "format must be csv or xlsx")
		return
	}
	ok(c, http.StatusAccepted, gin.H{"status": "queued", "format": format, "export_id": uuid.NewString()})
}
