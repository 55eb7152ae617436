package api

// Book is a catalogue entry in the allBooks collection.
type Book struct {
	// ID is the 24 character hex document identifier.
	ID string `json:"_id,omitempty"`
	// Image is the cover image URL.
	Image string `json:"image"`
	// BookName is the title.
	BookName string `json:"book_name"`
	// Genre matches a Genre name.
	Genre string `json:"genre"`
	// BookNumbers is the number of copies in stock.
	BookNumbers int `json:"book_numbers"`
	// ShortDescription is the blurb shown on the catalogue page.
	ShortDescription string `json:"short_description"`
	// Author names the author.
	Author string `json:"author"`
	// Rating is the average rating.
	Rating float64 `json:"rating"`
}

// BookUpdate models PUT /book/update/{id}. The request replaces all of these
// fields; absent ones are cleared to null. Other keys are ignored.
type BookUpdate struct {
	Image            *string  `json:"image,omitempty"`
	BookName         *string  `json:"book_name,omitempty"`
	Genre            *string  `json:"genre,omitempty"`
	BookNumbers      *int     `json:"book_numbers,omitempty"`
	ShortDescription *string  `json:"short_description,omitempty"`
	Author           *string  `json:"author,omitempty"`
	Rating           *float64 `json:"rating,omitempty"`
}

// StockUpdate models PATCH /book/{id}.
type StockUpdate struct {
	// BookNumbers is the new stock count.
	BookNumbers *int `json:"book_numbers"`
}

// BorrowedBook records one borrowed copy. Book fields are copied at borrow time.
type BorrowedBook struct {
	ID string `json:"_id,omitempty"`
	// Email identifies the borrower and is matched against the token identity.
	Email string `json:"email"`
	// Name is the borrower display name.
	Name         string `json:"name"`
	BookID       string `json:"book_id"`
	Image        string `json:"image"`
	BookName     string `json:"book_name"`
	Genre        string `json:"genre"`
	Author       string `json:"author"`
	BorrowedDate string `json:"borrowed_date"`
	ReturnDate   string `json:"return_date"`
}

// Genre is a catalogue category.
type Genre struct {
	ID   string `json:"_id,omitempty"`
	Name string `json:"name"`
}

// Librarian is a registered librarian profile.
type Librarian struct {
	ID    string `json:"_id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Photo string `json:"photo"`
}

// TokenRequest models POST /jwt.
type TokenRequest struct {
	// Email is the identity embedded in the issued token.
	Email string `json:"email"`
}

// SuccessResponse is returned by POST /jwt and POST /logout.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// InsertResult mirrors the document store insertOne result.
type InsertResult struct {
	Acknowledged bool   `json:"acknowledged"`
	InsertedID   string `json:"insertedId"`
}

// UpdateResult mirrors the document store updateOne result.
type UpdateResult struct {
	Acknowledged  bool    `json:"acknowledged"`
	MatchedCount  int64   `json:"matchedCount"`
	ModifiedCount int64   `json:"modifiedCount"`
	UpsertedCount int64   `json:"upsertedCount"`
	UpsertedID    *string `json:"upsertedId"`
}

// DeleteResult mirrors the document store deleteOne result.
type DeleteResult struct {
	Acknowledged bool  `json:"acknowledged"`
	DeletedCount int64 `json:"deletedCount"`
}

// StatusResponse is returned by the health endpoints.
type StatusResponse struct {
	Status string `json:"status"`
	// Detail explains a failed readiness check.
	Detail string `json:"detail,omitempty"`
}

// ErrorResponse is the canonical error envelope for API errors.
type ErrorResponse struct {
	// ErrorCode is the stable error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable context for the error.
	Detail string `json:"detail,omitempty"`
}

// Error codes returned in ErrorResponse.ErrorCode.
const (
	ErrorUnauthorized     = "unauthorized"
	ErrorForbidden        = "forbidden"
	ErrorInvalidID        = "invalid_id"
	ErrorInvalidBody      = "invalid_body"
	ErrorPayloadTooLarge  = "payload_too_large"
	ErrorInternal         = "internal_error"
	ErrorNotReady         = "not_ready"
	ErrorMethodNotAllowed = "method_not_allowed"
	ErrorDuplicateID      = "duplicate_id"
)
