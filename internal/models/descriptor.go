package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownModel is returned when a model id is not in the catalogue
	ErrUnknownModel = errors.New("unknown model")
	// ErrInvalidDescriptor is returned when a descriptor fails registration checks
	ErrInvalidDescriptor = errors.New("invalid model descriptor")
	// ErrDuplicateModel is returned when a model id is registered twice
	ErrDuplicateModel = errors.New("model already registered")
)

// OutputType tells the decoder how to read a model's raw outputs
type OutputType string

const (
	OutputSingleRegression             OutputType = "single_regression"
	OutputSingleClassification         OutputType = "single_classification"
	OutputDualRegressionClassification OutputType = "dual_regression_classification"
)

// EngagementClasses is the five-bucket engagement taxonomy, lowest to highest
var EngagementClasses = []string{"SNP", "Not Engaged", "Barely Engaged", "Engaged", "Highly Engaged"}

// Descriptor describes one inference model variant. Descriptors are immutable once registered.
type Descriptor struct {
	ID          string         `yaml:"id" json:"id" validate:"required"`
	Name        string         `yaml:"name" json:"name" validate:"required"`
	Filename    string         `yaml:"filename" json:"filename" validate:"required"`
	Version     string         `yaml:"version" json:"version"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Input       InputContract  `yaml:"input" json:"input"`
	Output      OutputContract `yaml:"output" json:"output"`
	Performance Performance    `yaml:"performance" json:"performance"`
}

// InputContract is the tensor layout a model consumes
type InputContract struct {
	SequenceLength int     `yaml:"sequence_length" json:"sequenceLength" validate:"required,gt=0"`
	NumLandmarks   int     `yaml:"num_landmarks" json:"numLandmarks" validate:"required,gt=0"`
	NumCoords      int     `yaml:"num_coords" json:"numCoords" validate:"required,gt=0"`
	Normalize      bool    `yaml:"normalize" json:"normalizationRequired"`
	TensorName     string  `yaml:"tensor_name" json:"tensorName" validate:"required"`
	TensorShape    []int64 `yaml:"tensor_shape" json:"tensorShape" validate:"required,min=1,dive,gt=0"`
}

// ElementCount is the number of floats in one input tensor
func (c InputContract) ElementCount() int {
	return c.SequenceLength * c.NumLandmarks * c.NumCoords
}

// OutputContract describes the tensors a model produces
type OutputContract struct {
	TensorName  string     `yaml:"tensor_name" json:"tensorName" validate:"required"`
	OutputNames []string   `yaml:"output_names,omitempty" json:"outputNames,omitempty" validate:"omitempty,dive,required"`
	OutputType  OutputType `yaml:"output_type" json:"outputType" validate:"required,oneof=single_regression single_classification dual_regression_classification"`
	NumClasses  int        `yaml:"num_classes" json:"numClasses" validate:"required,gt=0"`
	ClassLabels []string   `yaml:"class_labels,omitempty" json:"classLabels,omitempty"`
}

// Names returns the output tensor names to request from the session, in decode order.
// Dual models list the regression output first and the classification head second.
func (c OutputContract) Names() []string {
	if len(c.OutputNames) > 0 {
		return append([]string(nil), c.OutputNames...)
	}
	return []string{c.TensorName}
}

// Label returns the display name for a class index
func (c OutputContract) Label(idx int) string {
	labels := c.ClassLabels
	if len(labels) == 0 {
		labels = EngagementClasses
	}
	if idx < 0 || idx >= len(labels) {
		return fmt.Sprintf("class_%d", idx)
	}
	return labels[idx]
}

// Performance is declared, informational model metadata
type Performance struct {
	Accuracy    float64 `yaml:"accuracy,omitempty" json:"accuracy,omitempty"`
	LatencyMS   float64 `yaml:"latency_ms,omitempty" json:"latencyMs,omitempty"`
	SizeMB      float64 `yaml:"size_mb,omitempty" json:"sizeMb,omitempty"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
}

// Clone returns a deep copy so callers can't mutate the registered descriptor
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Input.TensorShape = append([]int64(nil), d.Input.TensorShape...)
	if d.Output.OutputNames != nil {
		c.Output.OutputNames = append([]string(nil), d.Output.OutputNames...)
	}
	if d.Output.ClassLabels != nil {
		c.Output.ClassLabels = append([]string(nil), d.Output.ClassLabels...)
	}
	return c
}

// Validate checks required fields and the cross-field rules of a descriptor
func (d Descriptor) Validate(v *validator.Validate) error {
	if v == nil {
		v = validator.New()
	}

	var problems []string

	if err := v.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
		}
	}

	if len(problems) == 0 {
		var product int64 = 1
		for _, dim := range d.Input.TensorShape {
			product *= dim
		}
		if product != int64(d.Input.ElementCount()) {
			problems = append(problems, fmt.Sprintf("input tensor shape %v holds %d elements, contract needs %d",
				d.Input.TensorShape, product, d.Input.ElementCount()))
		}

		if d.Output.OutputType == OutputDualRegressionClassification && len(d.Output.OutputNames) != 2 {
			problems = append(problems, "dual output models must declare exactly two output names")
		}
		if len(d.Output.ClassLabels) > 0 && len(d.Output.ClassLabels) != d.Output.NumClasses {
			problems = append(problems, fmt.Sprintf("%d class labels declared for %d classes",
				len(d.Output.ClassLabels), d.Output.NumClasses))
		}
	}

	if len(problems) > 0 {
		id := d.ID
		if id == "" {
			id = "<no id>"
		}
		return fmt.Errorf("%w %s: %s", ErrInvalidDescriptor, id, strings.Join(problems, "; "))
	}

	return nil
}
