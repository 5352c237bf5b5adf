package cart

// Command はカートに対する操作。種類はこのファイルのものだけ。
type Command interface {
	isCommand()
}

// 商品を追加する（Quantity 0 は 1 として扱う）
type AddToCart struct {
	Product  ProductSnapshot
	Quantity int64
}

// 商品の明細を価格区分に関係なくすべて削除する
type RemoveFromCart struct {
	ProductID int64
}

// 数量変更。1未満は RemoveFromCart と同じ。
type UpdateQuantity struct {
	Key      LineKey
	Quantity int64
}

type ClearCart struct{}

func (AddToCart) isCommand()      {}
func (RemoveFromCart) isCommand() {}
func (UpdateQuantity) isCommand() {}
func (ClearCart) isCommand()      {}
