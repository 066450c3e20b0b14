package domain

import "time"

type Role string

const (
	RoleBuyer  Role = "Buyer"
	RoleSeller Role = "Seller"
)

// Principal is an identified user in the directory. The password never
// appears here; see Credential.
type Principal struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

// Credential is a Principal plus its stored password hash. It lives only in
// the user directory, never in the active session record.
type Credential struct {
	Principal
	PasswordHash string `json:"passwordHash"`
}

type Review struct {
	UserID  string `json:"userId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Product is a catalog record. Seller-created products use the same shape as
// seed catalog entries and are re-exposed verbatim.
type Product struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Price           float64  `json:"price"`
	Category        string   `json:"category"`
	Image           string   `json:"image"`
	SellerID        string   `json:"sellerId"`
	Reviews         []Review `json:"reviews,omitempty"`
	AverageRating   float64  `json:"averageRating,omitempty"`
	NumberOfReviews int      `json:"numberOfReviews,omitempty"`
}

// CartItem is one cart line: the product snapshot plus a quantity >= 1.
type CartItem struct {
	Product
	Quantity int `json:"quantity"`
}

type OrderItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	SellerID  string  `json:"sellerId"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// Order is one placed-order record in the append-only ledger.
type Order struct {
	ID        string      `json:"id"`
	BuyerID   string      `json:"buyerId"`
	Items     []OrderItem `json:"items"`
	Total     float64     `json:"total"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Message struct {
	ID       string    `json:"id"`
	SenderID string    `json:"senderId"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// Conversation is a message thread between exactly two participants.
// Unread holds a pending-message counter per participant id.
type Conversation struct {
	ID            string         `json:"id"`
	Participants  [2]string      `json:"participants"`
	Messages      []Message      `json:"messages"`
	LastMessageAt time.Time      `json:"lastMessageAt"`
	Unread        map[string]int `json:"unread"`
}

// Participant is a resolved conversation participant for display.
type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Initial string `json:"initial"`
	Role    Role   `json:"role,omitempty"`
}
