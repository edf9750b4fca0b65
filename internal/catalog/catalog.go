// Package catalog holds the process-wide, immutable table of source
// datasets that vote in the forest agreement score. Each entry states which
// pixel values of the product mean "forest", its native resolution and an
// optional acquisition-date filter. Adding a dataset is a table entry; the
// combination logic never changes.
package catalog

import (
	"fmt"
	"sort"

	"forestagree/internal/types"
)

// Dataset identifiers of the reference configuration.
const (
	ESAWorldCover2020    = "esa_worldcover_2020"
	ESRILULC2020         = "esri_lulc_2020"
	DynamicWorld2020     = "dynamic_world_2020"
	JAXAFNF2020          = "jaxa_fnf_2020"
	JRCGFC2020           = "jrc_gfc_2020"
	ETHCanopyHeight2020  = "eth_canopy_height_2020"
	GLADGLCLU2020        = "glad_glclu_2020"
	CopernicusLC100_2019 = "copernicus_lc100_2019"
	MODISLC2020          = "modis_lc_2020"
)

// canopyHeightCeiling is the exclusive upper bound of valid canopy heights;
// 255 is the product's nodata value.
const canopyHeightCeiling = 255

// DefaultForestHeightMinM is the canopy height (m) from which a pixel counts as forest.
const DefaultForestHeightMinM = 5.0

// Catalog is the immutable dataset table. Safe for concurrent use.
type Catalog struct {
	order []string
	specs map[string]types.DatasetSpec
}

// New builds the reference catalog. minHeightM is the forest threshold for
// continuous canopy-height data.
func New(minHeightM float64) *Catalog {
	return FromSpecs(referenceSpecs(minHeightM))
}

// FromSpecs builds a catalog from an explicit table, preserving order.
// Later duplicates of an ID replace earlier ones.
func FromSpecs(specs []types.DatasetSpec) *Catalog {
	c := &Catalog{specs: make(map[string]types.DatasetSpec, len(specs))}
	for _, s := range specs {
		if _, exists := c.specs[s.ID]; !exists {
			c.order = append(c.order, s.ID)
		}
		c.specs[s.ID] = s
	}
	return c
}

func referenceSpecs(minHeightM float64) []types.DatasetSpec {
	gladTrees := append(types.CodeRange(25, 48), types.CodeRange(125, 148)...)
	copernicusForest := append(types.CodeRange(111, 116), types.CodeRange(121, 126)...)

	return []types.DatasetSpec{
		{
			ID:                ESAWorldCover2020,
			Description:       "ESA WorldCover 10m v100, tree cover",
			Rule:              types.CodeSet(10),
			NativeResolutionM: 10,
			Composite:         types.CompositeMosaic,
		},
		{
			ID:                ESRILULC2020,
			Description:       "Esri 10m annual land use/land cover, trees",
			Rule:              types.CodeSet(2),
			NativeResolutionM: 10,
			DateRange:         types.Year(2020),
			Composite:         types.CompositeMosaic,
		},
		{
			ID:                DynamicWorld2020,
			Description:       "Dynamic World V1 annual label mode, trees",
			Rule:              types.CodeSet(1),
			NativeResolutionM: 10,
			DateRange:         types.Year(2020),
			Composite:         types.CompositeLabelMode,
		},
		{
			ID:                JAXAFNF2020,
			Description:       "JAXA PALSAR-2 forest/non-forest, dense and non-dense forest",
			Rule:              types.CodeSet(1, 2),
			NativeResolutionM: 25,
			DateRange:         types.Year(2020),
			Composite:         types.CompositeMosaic,
		},
		{
			ID:                JRCGFC2020,
			Description:       "JRC global forest cover 2020",
			Rule:              types.CodeSet(1),
			NativeResolutionM: 10,
			Composite:         types.CompositeMosaic,
		},
		{
			ID:                ETHCanopyHeight2020,
			Description:       "ETH global canopy height 2020, height above threshold",
			Rule:              types.ValueRange(minHeightM, canopyHeightCeiling),
			NativeResolutionM: 10,
			Composite:         types.CompositeMosaic,
		},
		{
			ID:                GLADGLCLU2020,
			Description:       "GLAD global land cover and land use 2020, tree height classes",
			Rule:              types.CodeSet(gladTrees...),
			NativeResolutionM: 30,
			Composite:         types.CompositeMosaic,
		},
		{
			ID:                CopernicusLC100_2019,
			Description:       "Copernicus global land cover 100m, closed and open forest",
			Rule:              types.CodeSet(copernicusForest...),
			NativeResolutionM: 100,
			Composite:         types.CompositeMosaic,
		},
		{
			ID:                MODISLC2020,
			Description:       "MODIS MCD12Q1 IGBP forest classes",
			Rule:              types.CodeSet(1, 2, 3, 4, 5),
			NativeResolutionM: 500,
			DateRange:         types.Year(2020),
			Composite:         types.CompositeMosaic,
		},
	}
}

// IDs returns dataset identifiers in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns D, the number of voting datasets.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Spec returns the full entry for a dataset.
func (c *Catalog) Spec(id string) (types.DatasetSpec, error) {
	spec, ok := c.specs[id]
	if !ok {
		return types.DatasetSpec{}, unknownDataset(id, c.order)
	}
	return spec, nil
}

// ClassesFor returns the forest rule of a dataset: a discrete code set, or a
// half-open range for continuous data.
func (c *Catalog) ClassesFor(id string) (types.ClassRule, error) {
	spec, err := c.Spec(id)
	if err != nil {
		return types.ClassRule{}, err
	}
	return spec.Rule, nil
}

// Specs returns all entries in catalog order.
func (c *Catalog) Specs() []types.DatasetSpec {
	out := make([]types.DatasetSpec, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.specs[id])
	}
	return out
}

func unknownDataset(id string, known []string) error {
	sorted := make([]string, len(known))
	copy(sorted, known)
	sort.Strings(sorted)
	return types.NewAppErrorWithDetails(
		types.ErrCodeNotFoundDataset,
		fmt.Sprintf("dataset %q is not registered in the catalog", id),
		nil,
		map[string]any{"known": sorted},
	)
}
