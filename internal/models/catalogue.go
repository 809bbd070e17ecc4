package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultModelID is the variant used when nothing was selected
const DefaultModelID = "v1"

// BuiltinDescriptors returns the statically known model variants
func BuiltinDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:          "v1",
			Name:        "Engagement LSTM v1",
			Filename:    "engagement_model_v1.onnx",
			Version:     "1.0.0",
			Description: "100-frame sequence model with regression and classification heads",
			Input: InputContract{
				SequenceLength: 100,
				NumLandmarks:   478,
				NumCoords:      3,
				Normalize:      true,
				TensorName:     "input",
				TensorShape:    []int64{1, 100, 478, 3},
			},
			Output: OutputContract{
				TensorName:  "regression_output",
				OutputNames: []string{"regression_output", "classification_head"},
				OutputType:  OutputDualRegressionClassification,
				NumClasses:  5,
				ClassLabels: append([]string(nil), EngagementClasses...),
			},
			Performance: Performance{Accuracy: 0.71, LatencyMS: 45, SizeMB: 12.4},
		},
		{
			ID:          "v2",
			Name:        "Engagement Regressor v2",
			Filename:    "engagement_model_v2.onnx",
			Version:     "2.0.0",
			Description: "30-frame regression model producing a single engagement score",
			Input: InputContract{
				SequenceLength: 30,
				NumLandmarks:   478,
				NumCoords:      3,
				Normalize:      true,
				TensorName:     "input",
				TensorShape:    []int64{1, 30, 478, 3},
			},
			Output: OutputContract{
				TensorName: "output",
				OutputType: OutputSingleRegression,
				NumClasses: 5,
			},
			Performance: Performance{Accuracy: 0.66, LatencyMS: 18, SizeMB: 4.1},
		},
		{
			ID:          "v3",
			Name:        "Engagement Classifier v3",
			Filename:    "engagement_model_v3.onnx",
			Version:     "3.0.0",
			Description: "30-frame classifier over the five engagement classes",
			Input: InputContract{
				SequenceLength: 30,
				NumLandmarks:   478,
				NumCoords:      3,
				Normalize:      true,
				TensorName:     "input",
				TensorShape:    []int64{1, 30, 478, 3},
			},
			Output: OutputContract{
				TensorName:  "logits",
				OutputType:  OutputSingleClassification,
				NumClasses:  5,
				ClassLabels: append([]string(nil), EngagementClasses...),
			},
			Performance: Performance{Accuracy: 0.68, LatencyMS: 16, SizeMB: 3.8},
		},
	}
}

// catalogueFile is the on-disk format for extra model descriptors
type catalogueFile struct {
	Models []Descriptor `yaml:"models"`
}

// LoadCatalogue reads extra descriptors from a YAML file
func LoadCatalogue(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalogue: %w", err)
	}

	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model catalogue: %w", err)
	}

	return file.Models, nil
}
