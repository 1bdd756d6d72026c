package enrich

import (
	"context"
	"errors"

	"github.com/propflow/skiptrace-cli/internal/model"
	"github.com/propflow/skiptrace-cli/pkg/skipdata"
)

// providerClient adapts the SkipData API client to the Client interface.
type providerClient struct {
	api *skipdata.Client
}

// NewProviderClient wraps a SkipData API client as a Client. The first
// person in the provider's response is treated as the property owner.
func NewProviderClient(api *skipdata.Client) Client {
	return &providerClient{api: api}
}

func (p *providerClient) Lookup(ctx context.Context, addr model.Address) (*model.ContactData, error) {
	persons, err := p.api.Search(ctx, skipdata.SearchRequest{
		Street: addr.Street,
		City:   addr.City,
		State:  addr.State,
		Zip:    addr.Zip,
	})
	if err != nil {
		if errors.Is(err, skipdata.ErrNoMatch) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return contactFromPerson(persons[0]), nil
}

func contactFromPerson(p skipdata.Person) *model.ContactData {
	contact := &model.ContactData{
		OwnerFirstName: p.FirstName,
		OwnerLastName:  p.LastName,
		OwnerFullName:  p.FullName,
		Age:            p.Age,
		Deceased:       p.IsDeceased,
		Emails:         p.Emails,
	}
	for _, ph := range p.Phones {
		contact.Phones = append(contact.Phones, model.Phone{
			Number:       ph.Number,
			Type:         ph.Type,
			Carrier:      ph.Carrier,
			Disconnected: ph.Disconnected,
			LastSeen:     ph.LastSeen,
		})
	}
	for _, a := range p.Addresses {
		contact.Addresses = append(contact.Addresses, model.Address{
			Street: a.Street,
			City:   a.City,
			State:  a.State,
			Zip:    a.Zip,
		})
	}
	return contact
}
