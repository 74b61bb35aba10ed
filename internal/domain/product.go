package domain

// Product is the minimal catalog record needed to download one archive.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
