package action

import "fmt"

func summarizeCoord(verb string, x, y int) string {
	return fmt.Sprintf("%s (%d,%d)", verb, x, y)
}

func summarizeDrag(x1, y1, x2, y2 int) string {
	return fmt.Sprintf("drag (%d,%d)->(%d,%d)", x1, y1, x2, y2)
}

func summarizeAmount(label string, amount int) string {
	return fmt.Sprintf("%s %d", label, amount)
}

func summarizeText(text string) string {
	const max = 40
	if len(text) > max {
		return fmt.Sprintf("type %q…", text[:max])
	}
	return fmt.Sprintf("type %q", text)
}
