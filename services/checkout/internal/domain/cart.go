package domain

// Product — то, что checkout знает о товаре каталога.
type Product struct {
	ID     string
	Name   string
	Price  Amount
	Stock  int
	Active bool
}

// CartItem — позиция корзины вместе с текущим состоянием товара.
type CartItem struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
	Product   Product
}

// Subtotal — стоимость позиции по текущей цене каталога.
func (c CartItem) Subtotal() Amount {
	return c.Product.Price.Multiply(c.Quantity)
}
