package books

import "strings"

// Author is a person credited on books or anthology titles.
type Author struct {
	ID         int64  `json:"id,omitempty"`
	FamilyName string `json:"family_name"`
	GivenNames string `json:"given_names,omitempty"`
}

// DisplayName formats the author as "Family, Given".
func (a Author) DisplayName() string {
	if a.GivenNames == "" {
		return a.FamilyName
	}
	return a.FamilyName + ", " + a.GivenNames
}

// AuthorCount is an author with the number of books crediting them.
type AuthorCount struct {
	Author
	Books int `json:"books"`
}

// Series is a named sequence of books.
type Series struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

// SeriesCount is a series with the number of books in it.
type SeriesCount struct {
	Series
	Books int `json:"books"`
}

// BookSeries places a book in a series. Number is free text ("3", "2.5", "Prequel").
type BookSeries struct {
	Series
	Number string `json:"number,omitempty"`
}

// DisplayName formats the membership as "Name #Number".
func (s BookSeries) DisplayName() string {
	if s.Number == "" {
		return s.Name
	}
	return s.Name + " #" + s.Number
}

// Bookshelf groups books. Shelf DefaultBookshelfID always exists.
type Bookshelf struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

// AnthologyTitle is one work inside an anthology book.
type AnthologyTitle struct {
	ID       int64  `json:"id,omitempty"`
	BookID   int64  `json:"book_id,omitempty"`
	Author   Author `json:"author"`
	Title    string `json:"title"`
	Position int    `json:"position,omitempty"`
}

// Loan records who holds a book.
type Loan struct {
	BookID   int64  `json:"book_id"`
	LoanedTo string `json:"loaned_to"`
}

// Book is the aggregate root: the books row plus its ordered authors and
// series, its shelves, anthology titles and loan.
type Book struct {
	ID                    int64   `json:"id,omitempty"`
	UUID                  string  `json:"uuid,omitempty"`
	Title                 string  `json:"title"`
	ISBN                  string  `json:"isbn,omitempty"`
	Publisher             string  `json:"publisher,omitempty"`
	DatePublished         string  `json:"date_published,omitempty"`
	Rating                float64 `json:"rating,omitempty"`
	Read                  bool    `json:"read"`
	Pages                 int     `json:"pages,omitempty"`
	Notes                 string  `json:"notes,omitempty"`
	ListPrice             string  `json:"list_price,omitempty"`
	AnthologyMask         int     `json:"anthology_mask,omitempty"`
	Location              string  `json:"location,omitempty"`
	ReadStart             string  `json:"read_start,omitempty"`
	ReadEnd               string  `json:"read_end,omitempty"`
	Format                string  `json:"format,omitempty"`
	Signed                bool    `json:"signed"`
	Description           string  `json:"description,omitempty"`
	Genre                 string  `json:"genre,omitempty"`
	Language              string  `json:"language,omitempty"`
	DateAdded             string  `json:"date_added,omitempty"`
	GoodreadsBookID       int64   `json:"goodreads_book_id,omitempty"`
	LastGoodreadsSyncDate string  `json:"last_goodreads_sync_date,omitempty"`
	LastUpdateDate        string  `json:"last_update_date,omitempty"`

	Authors         []Author         `json:"authors"`
	Series          []BookSeries     `json:"series,omitempty"`
	Bookshelves     []Bookshelf      `json:"bookshelves,omitempty"`
	AnthologyTitles []AnthologyTitle `json:"anthology_titles,omitempty"`
	// LoanedTo is empty when the book is on the shelf.
	LoanedTo string `json:"loaned_to,omitempty"`
}

// FirstAuthor is the display name of the author at position 1.
func (b Book) FirstAuthor() string {
	if len(b.Authors) == 0 {
		return ""
	}
	return b.Authors[0].DisplayName()
}

// FirstSeries is the display name of the series at position 1.
func (b Book) FirstSeries() string {
	if len(b.Series) == 0 {
		return ""
	}
	return b.Series[0].DisplayName()
}

// normalizeName collapses runs of whitespace and trims the ends.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
