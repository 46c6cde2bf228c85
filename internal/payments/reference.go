package payments

import (
	"strings"

	"github.com/google/uuid"
)

// Metadata keys written on Stripe sessions and payment intents.
const (
	MetadataType       = "type"
	MetadataOrderID    = "order_id"
	MetadataDonationID = "donation_id"
)

// Reference points a gateway payment back at the order or donation it pays for.
type Reference struct {
	Kind Kind
	ID   uuid.UUID
}

func (r Reference) IsZero() bool {
	return r.ID == uuid.Nil
}

// StripeMetadata encodes ref as Stripe metadata.
func StripeMetadata(ref Reference) map[string]string {
	md := map[string]string{MetadataType: string(ref.Kind)}
	switch ref.Kind {
	case KindDonation:
		md[MetadataDonationID] = ref.ID.String()
	default:
		md[MetadataOrderID] = ref.ID.String()
	}
	return md
}

// ReferenceFromMetadata decodes Stripe metadata. A missing type with an
// order_id is treated as an order.
func ReferenceFromMetadata(md map[string]string) (Reference, bool) {
	if len(md) == 0 {
		return Reference{}, false
	}
	switch metadataKind(md) {
	case KindDonation:
		if id, err := uuid.Parse(md[MetadataDonationID]); err == nil {
			return Reference{Kind: KindDonation, ID: id}, true
		}
	case KindOrder, "":
		if id, err := uuid.Parse(md[MetadataOrderID]); err == nil {
			return Reference{Kind: KindOrder, ID: id}, true
		}
	}
	return Reference{}, false
}

func metadataKind(md map[string]string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(md[MetadataType])))
}

// CustomID encodes ref as a PayPal custom_id ("order:<uuid>").
func CustomID(ref Reference) string {
	return string(ref.Kind) + ":" + ref.ID.String()
}

// ParseCustomID decodes a PayPal custom_id. A bare uuid is treated as an order.
func ParseCustomID(value string) (Reference, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Reference{}, false
	}
	kind, raw, found := strings.Cut(value, ":")
	if !found {
		kind, raw = string(KindOrder), value
	}
	k := Kind(strings.ToLower(kind))
	if !k.IsValid() {
		return Reference{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Reference{}, false
	}
	return Reference{Kind: k, ID: id}, true
}
