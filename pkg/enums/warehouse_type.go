package enums

import "fmt"

type WarehouseType string

const (
	WarehouseTypeServiceCenter WarehouseType = "service_center"
	WarehouseTypeCompany       WarehouseType = "company"
)

var validWarehouseTypes = []WarehouseType{
	WarehouseTypeServiceCenter,
	WarehouseTypeCompany,
}

func (w WarehouseType) String() string {
	return string(w)
}

func (w WarehouseType) IsValid() bool {
	for _, candidate := range validWarehouseTypes {
		if candidate == w {
			return true
		}
	}
	return false
}

func ParseWarehouseType(value string) (WarehouseType, error) {
	for _, candidate := range validWarehouseTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid warehouse type %q", value)
}
