package cart

import (
	"github.com/shopspring/decimal"
)

// カートに入れる時点の商品情報（カタログから渡される）
type ProductSnapshot struct {
	ID                      int64
	Price                   decimal.Decimal
	SalePrice               decimal.NullDecimal
	IsOnSale                bool
	OnSaleQuantityRemaining int64
}

// セール価格で売れる状態か
func (p ProductSnapshot) saleAvailable() bool {
	return p.IsOnSale && p.SalePrice.Valid && p.OnSaleQuantityRemaining > 0
}

// カートの明細
// 同じ商品でもセール価格と通常価格は別の行になる。
type LineItem struct {
	ProductID    int64           `json:"product_id"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	IsSalePriced bool            `json:"is_sale_priced"`
	Quantity     int64           `json:"quantity"`

	// 最後に追加した時点のセール残数（通常価格の行は0）
	SaleLimit int64 `json:"sale_limit,omitempty"`
}

// 明細を特定するキー（商品ID＋価格区分）
type LineKey struct {
	ProductID    int64 `json:"product_id"`
	IsSalePriced bool  `json:"is_sale_priced"`
}

func (l LineItem) Key() LineKey {
	return LineKey{ProductID: l.ProductID, IsSalePriced: l.IsSalePriced}
}

func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// カートの状態。並びは追加順。
type State struct {
	Lines []LineItem `json:"lines"`
}

// 合計は毎回明細から計算する
func (s State) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (s State) IsEmpty() bool {
	return len(s.Lines) == 0
}

// Find は key の明細を返す。
func (s State) Find(key LineKey) (LineItem, bool) {
	if i := s.indexOf(key); i >= 0 {
		return s.Lines[i], true
	}
	return LineItem{}, false
}

func (s State) indexOf(key LineKey) int {
	for i, l := range s.Lines {
		if l.Key() == key {
			return i
		}
	}
	return -1
}

func (s State) clone() State {
	lines := make([]LineItem, len(s.Lines))
	copy(lines, s.Lines)
	return State{Lines: lines}
}

// Without は done の明細の数量を差し引いた状態を返す。数量が0以下になった行は消える。
// 注文確定後、確定したぶんだけをカートから外すのに使う。
func (s State) Without(done State) State {
	taken := make(map[LineKey]int64, len(done.Lines))
	for _, l := range done.Lines {
		taken[l.Key()] += l.Quantity
	}

	out := State{Lines: make([]LineItem, 0, len(s.Lines))}
	for _, l := range s.Lines {
		l.Quantity -= taken[l.Key()]
		if l.Quantity > 0 {
			out.Lines = append(out.Lines, l)
		}
	}
	return out
}

// Reduce はコマンドを適用した新しい状態を返す。引数の state は変更しない。
func Reduce(state State, cmd Command) State {
	next := state.clone()

	switch c := cmd.(type) {
	case AddToCart:
		qty := c.Quantity
		if qty < 1 {
			qty = 1
		}
		// 1個ずつセール上限を確認する
		for i := int64(0); i < qty; i++ {
			next = addOne(next, c.Product)
		}
	case RemoveFromCart:
		next = removeProduct(next, c.ProductID)
	case UpdateQuantity:
		next = updateQuantity(next, c.Key, c.Quantity)
	case ClearCart:
		next = State{Lines: []LineItem{}}
	}

	return next
}

func addOne(s State, p ProductSnapshot) State {
	if p.saleAvailable() {
		i := s.indexOf(LineKey{ProductID: p.ID, IsSalePriced: true})
		if i < 0 {
			s.Lines = append(s.Lines, LineItem{
				ProductID:    p.ID,
				UnitPrice:    p.SalePrice.Decimal,
				IsSalePriced: true,
				Quantity:     1,
				SaleLimit:    p.OnSaleQuantityRemaining,
			})
			return s
		}

		s.Lines[i].SaleLimit = p.OnSaleQuantityRemaining
		if s.Lines[i].Quantity < p.OnSaleQuantityRemaining {
			s.Lines[i].Quantity++
			return s
		}
		// セール枠を使い切ったら通常価格へ
	}

	i := s.indexOf(LineKey{ProductID: p.ID, IsSalePriced: false})
	if i >= 0 {
		s.Lines[i].Quantity++
		return s
	}

	s.Lines = append(s.Lines, LineItem{
		ProductID:    p.ID,
		UnitPrice:    p.Price,
		IsSalePriced: false,
		Quantity:     1,
	})
	return s
}

func removeProduct(s State, productID int64) State {
	kept := s.Lines[:0]
	for _, l := range s.Lines {
		if l.ProductID != productID {
			kept = append(kept, l)
		}
	}
	s.Lines = kept
	return s
}

func updateQuantity(s State, key LineKey, qty int64) State {
	i := s.indexOf(key)
	if i < 0 {
		return s
	}
	if qty < 1 {
		return removeProduct(s, key.ProductID)
	}

	if key.IsSalePriced && s.Lines[i].SaleLimit > 0 && qty > s.Lines[i].SaleLimit {
		qty = s.Lines[i].SaleLimit
	}
	s.Lines[i].Quantity = qty
	return s
}
