package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/quickcart/commerce/internal/domain"
	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/repositories"
)

const addressesCollection = "addresses"

type addressDocument struct {
	UserID     string `firestore:"userId"`
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

// AddressRepository reads shipping addresses from a top-level collection keyed by address id.
type AddressRepository struct {
	base *pfirestore.Collection[addressDocument]
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{
		base: pfirestore.NewCollection[addressDocument](provider, addressesCollection),
	}, nil
}

func (r *AddressRepository) FindByID(ctx context.Context, addressID string) (domain.Address, error) {
	if r == nil || r.base == nil {
		return domain.Address{}, errors.New("address repository not initialised")
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return domain.Address{}, errors.New("address id is required")
	}
	ref, err := r.base.Doc(ctx, addressID)
	if err != nil {
		return domain.Address{}, err
	}
	snap, err := readDoc(ctx, ref)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	return decodeAddress(snap)
}

func decodeAddress(snap *firestore.DocumentSnapshot) (domain.Address, error) {
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
	}
	return domain.Address{
		ID:         snap.Ref.ID,
		UserID:     doc.UserID,
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Phone:      doc.Phone,
	}, nil
}
