package catalog

// searchResponse is the subset of an OData Products response we consume.
type searchResponse struct {
	Count *int            `json:"@odata.count"`
	Value []productRecord `json:"value"`
}

type productRecord struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}
