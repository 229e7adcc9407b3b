package backend

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Endpoint path templates, grouped by backend resource. Placeholders are written {name} and
// filled positionally by Path.
const (
	EndpointAuthLogin        = "/auth/login/"
	EndpointAuthVerifyOTP    = "/auth/verify-otp/"
	EndpointAuthLogout       = "/auth/logout/"
	EndpointProfile          = "/profile/"
	EndpointAddressList      = "/address/"
	EndpointAddressDetail    = "/address/{id}/"
	EndpointFAQ              = "/faq/"
	EndpointTerms            = "/terms/"
	EndpointPrivacy          = "/privacy/"
	EndpointCategoryList     = "/category/"
	EndpointBannerList       = "/banner/"
	EndpointDiscountList     = "/discount/"
	EndpointSearch           = "/search/"
	EndpointProductList      = "/product/"
	EndpointProductDetail    = "/product/{id}/"
	EndpointCartDetail       = "/cart/{cart_id}/"
	EndpointCartItemAdd      = "/cart/{cart_id}/items/"
	EndpointCartItemDelete   = "/cart/items/{item_id}/"
	EndpointCartFreeItem     = "/cart/{cart_id}/free-item/"
	EndpointCouponApply      = "/coupon/apply/"
	EndpointCouponRemove     = "/coupon/remove/"
	EndpointWishlist         = "/wishlist/"
	EndpointWishlistToggle   = "/wishlist/toggle/"
	EndpointOrderPickup      = "/order/pickup-in-store/"
	EndpointOrderComplete    = "/order/complete-payment/"
	EndpointOrderTxnStatus   = "/order/update-transaction-status/"
	EndpointOrderList        = "/order/"
	EndpointOrderDetail      = "/order/{id}/"
	EndpointOrderReturn      = "/order/{id}/return/"
	EndpointOrderExchange    = "/order/{id}/exchange/"
	EndpointBankAccountList  = "/bank-account/"
	EndpointNotificationList = "/notification/"
	EndpointShipmentTracking = "/shiprocket-tracking/{order_id}/"
)

// Catalogue lists every endpoint template keyed by resource group.
var Catalogue = map[string][]string{
	"auth":                {EndpointAuthLogin, EndpointAuthVerifyOTP, EndpointAuthLogout},
	"profile":             {EndpointProfile},
	"address":             {EndpointAddressList, EndpointAddressDetail},
	"faq":                 {EndpointFAQ},
	"terms":               {EndpointTerms},
	"privacy":             {EndpointPrivacy},
	"category":            {EndpointCategoryList},
	"banner":              {EndpointBannerList},
	"discount":            {EndpointDiscountList},
	"search":              {EndpointSearch},
	"product":             {EndpointProductList, EndpointProductDetail},
	"cart":                {EndpointCartDetail, EndpointCartItemAdd, EndpointCartItemDelete, EndpointCartFreeItem},
	"coupon":              {EndpointCouponApply, EndpointCouponRemove},
	"wishlist":            {EndpointWishlist, EndpointWishlistToggle},
	"order":               {EndpointOrderPickup, EndpointOrderComplete, EndpointOrderTxnStatus, EndpointOrderList, EndpointOrderDetail, EndpointOrderReturn, EndpointOrderExchange},
	"bankAccount":         {EndpointBankAccountList},
	"notification":        {EndpointNotificationList},
	"shiprocket-tracking": {EndpointShipmentTracking},
}

// Groups returns the catalogue's resource groups in sorted order.
func Groups() []string {
	out := make([]string, 0, len(Catalogue))
	for group := range Catalogue {
		out = append(out, group)
	}
	sort.Strings(out)
	return out
}

// Path fills the template's placeholders in order. Arguments are path-escaped. It panics when
// the argument count does not match, which is a programming error.
func Path(template string, args ...string) string {
	var b strings.Builder
	rest := template
	used := 0
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		if used >= len(args) {
			panic(fmt.Sprintf("backend: missing argument for %s", template))
		}
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(args[used]))
		used++
		rest = rest[open+end+1:]
	}
	if used != len(args) {
		panic(fmt.Sprintf("backend: too many arguments for %s", template))
	}
	return b.String()
}
