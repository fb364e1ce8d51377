package storage

import (
	"fmt"
	"strings"
)

// ObjectKind names a family of archived objects.
type ObjectKind string

const (
	KindPharmacyBill ObjectKind = "pharmacy-bill"
)

// PathParams carries the identifiers an object path is built from.
type PathParams struct {
	PharmacyID string
	OrderID    string
}

var pathBuilders = map[ObjectKind]func(PathParams) (string, error){
	KindPharmacyBill: buildBillPath,
}

// BuildObjectPath resolves the object name for kind.
func BuildObjectPath(kind ObjectKind, params PathParams) (string, error) {
	builder, ok := pathBuilders[kind]
	if !ok {
		return "", fmt.Errorf("storage: unsupported object kind %q", kind)
	}
	return builder(params)
}

// BillPath is bills/pharmacies/{pharmacyId}/{orderId}.json.
func BillPath(pharmacyID, orderID string) (string, error) {
	return BuildObjectPath(KindPharmacyBill, PathParams{PharmacyID: pharmacyID, OrderID: orderID})
}

func buildBillPath(params PathParams) (string, error) {
	pharmacyID, err := validateSegment("pharmacyID", params.PharmacyID)
	if err != nil {
		return "", err
	}
	orderID, err := validateSegment("orderID", params.OrderID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("bills/pharmacies/%s/%s.json", pharmacyID, orderID), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
