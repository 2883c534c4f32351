package marketplace

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	report_client_product_detail = "client.product-detail"
)

var itemIdRegex = regexp.MustCompile(`/(?:product|item)/(?:[^?#]*/)?(\d+)\.html`)

// ExtractItemId pulls the numeric item id out of a product page url of the form
// `/product/.../{digits}.html` or `/item/{digits}.html`.
func ExtractItemId(productUrl string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(productUrl))
	if err != nil {
		return "", false
	}
	groups := itemIdRegex.FindStringSubmatch(parsed.Path)
	if len(groups) < 2 {
		return "", false
	}
	return groups[1], true
}

type ProductImage struct {
	ImageUrl string
}

type ProductProperty struct {
	Name      string
	ValueName string
	ImageUrl  string
}

// ProductDetail is the subset of a product listing used to build the image gallery.
type ProductDetail struct {
	ItemId           string
	Title            string
	OriginalImageUrl string
	ImageList        []ProductImage
	Properties       []ProductProperty
}

type skuProperty struct {
	SkuPropertyName             string `json:"sku_property_name"`
	SkuPropertyValue            string `json:"sku_property_value"`
	PropertyValueDefinitionName string `json:"property_value_definition_name"`
	SkuImage                    string `json:"sku_image"`
}

type productGetResponse struct {
	Response struct {
		RspCode looseString `json:"rsp_code"`
		RspMsg  string      `json:"rsp_msg"`
		Result  struct {
			BaseInfo struct {
				Subject string `json:"subject"`
			} `json:"ae_item_base_info_dto"`
			Multimedia struct {
				ImageUrls string `json:"image_urls"`
			} `json:"ae_multimedia_info_dto"`
			Skus struct {
				Items []struct {
					Properties struct {
						Items []skuProperty `json:"ae_sku_property_d_t_o"`
					} `json:"ae_sku_property_dtos"`
				} `json:"ae_item_sku_info_d_t_o"`
			} `json:"ae_item_sku_info_dtos"`
		} `json:"result"`
	} `json:"aliexpress_ds_product_get_response"`
}

// ProductDetailOptions are the locale params sent along with product lookups.
type ProductDetailOptions struct {
	ShipToCountry  string
	TargetCurrency string
	TargetLanguage string
}

func (o ProductDetailOptions) params(itemId string) map[string]string {
	params := map[string]string{
		"product_id":      itemId,
		"ship_to_country": "US",
		"target_currency": "USD",
		"target_language": "en",
	}
	if o.ShipToCountry != "" {
		params["ship_to_country"] = o.ShipToCountry
	}
	if o.TargetCurrency != "" {
		params["target_currency"] = o.TargetCurrency
	}
	if o.TargetLanguage != "" {
		params["target_language"] = o.TargetLanguage
	}
	return params
}

func splitImageUrls(joined string) []string {
	var out []string
	for _, part := range strings.Split(joined, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ProductDetail fetches the listing of a single item.
func (c *Client) ProductDetail(ctx context.Context, itemId string, opts ProductDetailOptions) (ProductDetail, error) {
	c.tel.ReportDebug(report_client_product_detail, itemId)

	res, err := Request[productGetResponse](ctx, c, ApiRequest{
		Method:  "aliexpress.ds.product.get",
		Version: "2.0",
		Params:  opts.params(itemId),
	})
	if err != nil {
		return ProductDetail{}, err
	}

	code := string(res.Response.RspCode)
	if code != "" && code != "200" && code != "0" {
		err := fmt.Errorf("product %s: rsp_code %s: %s", itemId, code, res.Response.RspMsg)
		c.tel.ReportWarning(report_client_product_detail, err)
		return ProductDetail{}, err
	}

	result := res.Response.Result
	detail := ProductDetail{
		ItemId: itemId,
		Title:  strings.TrimSpace(result.BaseInfo.Subject),
	}

	images := splitImageUrls(result.Multimedia.ImageUrls)
	if len(images) > 0 {
		detail.OriginalImageUrl = images[0]
		for _, image := range images[1:] {
			detail.ImageList = append(detail.ImageList, ProductImage{ImageUrl: image})
		}
	}

	for _, sku := range result.Skus.Items {
		for _, prop := range sku.Properties.Items {
			if prop.SkuImage == "" {
				continue
			}
			valueName := prop.PropertyValueDefinitionName
			if valueName == "" {
				valueName = prop.SkuPropertyValue
			}
			detail.Properties = append(detail.Properties, ProductProperty{
				Name:      prop.SkuPropertyName,
				ValueName: valueName,
				ImageUrl:  prop.SkuImage,
			})
		}
	}

	return detail, nil
}
