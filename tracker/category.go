package tracker

// Shape is the classified outline of a brick
type Shape string

// Color is the classified color of a brick
type Color string

const (
	ShapeSquare    Shape = "square"
	ShapeRectangle Shape = "rectangle"

	ColorRed  Color = "red"
	ColorBlue Color = "blue"
)

// LegoTypeID identifies a brick category for the inventory service
type LegoTypeID int

const (
	LegoTypeSquareRed     LegoTypeID = 1
	LegoTypeRectangleRed  LegoTypeID = 2
	LegoTypeSquareBlue    LegoTypeID = 3
	LegoTypeRectangleBlue LegoTypeID = 4
)

// category is the (shape, color) key of a BrickStore bucket
type category struct {
	shape Shape
	color Color
}

// bucketOrder is the fixed scan order used by BrickStore lookups
var bucketOrder = [4]category{
	{ShapeRectangle, ColorRed},
	{ShapeSquare, ColorRed},
	{ShapeRectangle, ColorBlue},
	{ShapeSquare, ColorBlue},
}

var typeIDs = map[category]LegoTypeID{
	{ShapeSquare, ColorRed}:     LegoTypeSquareRed,
	{ShapeRectangle, ColorRed}:  LegoTypeRectangleRed,
	{ShapeSquare, ColorBlue}:    LegoTypeSquareBlue,
	{ShapeRectangle, ColorBlue}: LegoTypeRectangleBlue,
}

// TypeIDFor maps a shape/color pair to its inventory type identifier.
// Unknown tags produce *ClassificationError instead of falling back to some default.
func TypeIDFor(shape Shape, color Color) (LegoTypeID, error) {
	id, ok := typeIDs[category{shape, color}]
	if !ok {
		return 0, &ClassificationError{Shape: shape, Color: color}
	}
	return id, nil
}

func bucketIndex(shape Shape, color Color) (int, error) {
	for i, c := range bucketOrder {
		if c.shape == shape && c.color == color {
			return i, nil
		}
	}
	return -1, &ClassificationError{Shape: shape, Color: color}
}
