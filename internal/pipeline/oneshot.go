package pipeline

import (
	"fmt"
	"os"

	"ncmcheck/internal"
)

// ExtractText returns the searchable text of a single input blob.
func ExtractText(inputType internal.InputType, blob []byte) (string, error) {
	switch inputType {
	case internal.InputText:
		return JoinText(string(blob)), nil
	case internal.InputHTML:
		text, err := htmlToText(string(blob))
		if err != nil {
			return "", err
		}
		return JoinText(text), nil
	case internal.InputXLSX:
		text, err := xlsxToText(blob)
		if err != nil {
			return "", err
		}
		return JoinText(text), nil
	case internal.InputPDF:
		text, err := pdfToText(blob)
		if err != nil {
			return "", err
		}
		return JoinText(text), nil
	case internal.InputEML:
		content, err := ExtractTextFromEmailRaw(blob)
		if err != nil {
			return "", err
		}
		return content.Text, nil
	default:
		return "", fmt.Errorf("unsupported input type: %s", inputType)
	}
}

// ExtractTextFromInput takes literal content for text and html, and a file
// path for the binary types.
func ExtractTextFromInput(inputType internal.InputType, input string) (string, error) {
	switch inputType {
	case internal.InputText, internal.InputHTML:
		return ExtractText(inputType, []byte(input))
	case internal.InputXLSX, internal.InputPDF, internal.InputEML:
		blob, err := os.ReadFile(input)
		if err != nil {
			return "", err
		}
		return ExtractText(inputType, blob)
	default:
		return "", fmt.Errorf("unsupported input type: %s", inputType)
	}
}
