package market

import "fmt"

// Dataset identifies one of the stored data families. The string form is
// part of the on-disk layout and must never change for existing data.
type Dataset int

const (
	DatasetPrices Dataset = iota
	DatasetFundamentalsQuarterly
	DatasetFundamentalsAnnual
	DatasetMetadata
)

// String returns the directory name for the dataset.
func (d Dataset) String() string {
	switch d {
	case DatasetPrices:
		return "prices"
	case DatasetFundamentalsQuarterly:
		return "fundamentals_quarterly"
	case DatasetFundamentalsAnnual:
		return "fundamentals_annual"
	case DatasetMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("dataset(%d)", int(d))
	}
}

// ParseDataset parses a dataset directory name.
func ParseDataset(s string) (Dataset, error) {
	switch s {
	case "prices":
		return DatasetPrices, nil
	case "fundamentals_quarterly":
		return DatasetFundamentalsQuarterly, nil
	case "fundamentals_annual":
		return DatasetFundamentalsAnnual, nil
	case "metadata":
		return DatasetMetadata, nil
	default:
		return 0, fmt.Errorf("unknown dataset %q", s)
	}
}

// Datasets lists every dataset, in layout order.
func Datasets() []Dataset {
	return []Dataset{
		DatasetPrices,
		DatasetFundamentalsQuarterly,
		DatasetFundamentalsAnnual,
		DatasetMetadata,
	}
}

// PartitionedByTicker reports whether partitions of this dataset carry a
// ticker component.
func (d Dataset) PartitionedByTicker() bool { return d != DatasetMetadata }

// PartitionedByYear reports whether partitions of this dataset carry a
// year component.
func (d Dataset) PartitionedByYear() bool { return d == DatasetPrices }

// Fundamentals reports whether the dataset holds fundamentals rows.
func (d Dataset) Fundamentals() bool {
	return d == DatasetFundamentalsQuarterly || d == DatasetFundamentalsAnnual
}
